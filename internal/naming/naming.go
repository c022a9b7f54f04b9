package naming

import "strings"

// Candidate sources, strongest first.
const (
	SourceOperator   = "operator"
	SourceReverseDNS = "reverse_dns"
	SourceVendor     = "vendor"
)

type Candidate struct {
	Name   string
	Source string
}

type scored struct {
	display string
	score   int
}

// NormalizeCandidate trims a raw name, lowercases DNS names and reduces
// FQDNs to their first label. ok is false for names that are not worth showing.
func NormalizeCandidate(source, rawName string) (display string, score int, ok bool) {
	source = strings.ToLower(strings.TrimSpace(source))
	name := strings.TrimSuffix(strings.TrimSpace(rawName), ".")
	if name == "" {
		return "", 0, false
	}

	if source == SourceReverseDNS {
		name = strings.ToLower(name)
		if looksGarbage(name) {
			return name, -1, false
		}
		if label, _, found := strings.Cut(name, "."); found && label != "" {
			name = label
		}
	}

	s := scoreCandidate(source, name)
	return name, s, s >= 0
}

// ChooseBest returns the highest scoring usable candidate. Ties go to the
// shorter name.
func ChooseBest(candidates []Candidate) (string, bool) {
	best := scored{score: -1}
	for _, c := range candidates {
		display, score, ok := NormalizeCandidate(c.Source, c.Name)
		if !ok {
			continue
		}
		next := scored{display: display, score: score}
		if better(next, best) {
			best = next
		}
	}
	if best.score < 0 || best.display == "" {
		return "", false
	}
	return best.display, true
}

// DisplayName labels a device for operators: the name they assigned, else a
// hostname label, else the vendor.
func DisplayName(friendlyName, hostname, vendor string) string {
	name, _ := ChooseBest([]Candidate{
		{Name: friendlyName, Source: SourceOperator},
		{Name: hostname, Source: SourceReverseDNS},
		{Name: vendor, Source: SourceVendor},
	})
	return name
}

func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if len(a.display) != len(b.display) {
		return len(a.display) < len(b.display)
	}
	return a.display < b.display
}

func scoreCandidate(source, display string) int {
	base := 10
	switch source {
	case SourceOperator:
		return 100
	case SourceReverseDNS:
		base = 90
	case SourceVendor:
		base = 40
	}

	if len(display) < 2 {
		base -= 50
	}
	if source == SourceReverseDNS && !looksHostnameLabel(display) {
		base -= 20
	}
	return base
}

func looksHostnameLabel(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func looksGarbage(normalized string) bool {
	if strings.Contains(normalized, "in-addr.arpa") || strings.Contains(normalized, "ip6.arpa") {
		return true
	}
	switch normalized {
	case "localhost", "localdomain", "workgroup":
		return true
	}
	return false
}
