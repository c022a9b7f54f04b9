package httpapi

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths map[string]map[string]any `yaml:"paths"`
}

var httpMethods = map[string]struct{}{
	http.MethodGet: {}, http.MethodPost: {}, http.MethodPut: {}, http.MethodPatch: {}, http.MethodDelete: {},
}

func loadOpenAPI(t *testing.T) openAPIDoc {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "api", "openapi.yaml")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var doc openAPIDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return doc
}

// documentedRoutes keys routes as "METHOD /api/v1/...", matching servers.url=/api.
func documentedRoutes(doc openAPIDoc) map[string]struct{} {
	out := make(map[string]struct{})
	for p, ops := range doc.Paths {
		for m := range ops {
			method := strings.ToUpper(m)
			if _, ok := httpMethods[method]; !ok {
				continue
			}
			out[method+" "+trimRoute("/api"+p)] = struct{}{}
		}
	}
	return out
}

func registeredRoutes(t *testing.T) map[string]struct{} {
	t.Helper()

	h := NewHandler(zerolog.New(io.Discard), nil, nil, Options{}, nil)
	mux, ok := h.Router().(*chi.Mux)
	if !ok {
		t.Fatalf("expected *chi.Mux from Handler.Router(), got %T", h.Router())
	}

	out := make(map[string]struct{})
	err := chi.Walk(mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if _, ok := httpMethods[method]; !ok {
			return nil
		}
		route = trimRoute(route)
		if strings.HasPrefix(route, "/api/") {
			out[method+" "+route] = struct{}{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk chi router: %v", err)
	}
	return out
}

func TestOpenAPIDoesNotDriftFromRouter(t *testing.T) {
	expected := documentedRoutes(loadOpenAPI(t))
	actual := registeredRoutes(t)

	missing := missingFrom(expected, actual)
	extra := missingFrom(actual, expected)
	if len(missing) == 0 && len(extra) == 0 {
		return
	}

	var sb strings.Builder
	for _, k := range missing {
		sb.WriteString("  documented, not routed: " + k + "\n")
	}
	for _, k := range extra {
		sb.WriteString("  routed, not documented: " + k + "\n")
	}
	t.Fatalf("OpenAPI drift detected. Update api/openapi.yaml or the router.\n%s", sb.String())
}

func TestDeviceCommandRoutes(t *testing.T) {
	actual := registeredRoutes(t)
	for _, route := range []string{
		"GET /api/v1/devices/{mac}",
		"POST /api/v1/devices/{mac}/allow",
		"POST /api/v1/devices/{mac}/block",
		"POST /api/v1/devices/{mac}/unallow",
		"POST /api/v1/devices/{mac}/unblock",
		"PUT /api/v1/devices/{mac}/name",
	} {
		if _, ok := actual[route]; !ok {
			t.Fatalf("route %q not registered", route)
		}
	}
}

func TestOpenAPIMACPathsDeclareParameter(t *testing.T) {
	doc := loadOpenAPI(t)
	for p, item := range doc.Paths {
		if !strings.Contains(p, "{mac}") {
			continue
		}
		params, _ := item["parameters"].([]any)
		found := false
		for _, raw := range params {
			param, _ := raw.(map[string]any)
			if param["$ref"] == "#/components/parameters/MAC" || param["name"] == "mac" {
				found = true
			}
		}
		if !found {
			t.Fatalf("path %s does not declare the mac path parameter", p)
		}
	}
}

func trimRoute(route string) string {
	if len(route) > 1 {
		route = strings.TrimSuffix(route, "/")
	}
	return route
}

func missingFrom(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
