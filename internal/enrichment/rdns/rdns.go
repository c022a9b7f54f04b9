package rdns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"raspsentinel/sentinel-go/internal/naming"
)

const defaultTimeout = 250 * time.Millisecond

// Resolver issues PTR queries to a single DNS server, usually the LAN gateway.
type Resolver struct {
	server string
	client *dns.Client
}

// NewResolver targets server ("host" or "host:port"). A non-positive timeout
// uses 250ms.
func NewResolver(server string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	server = strings.TrimSpace(server)
	if server != "" {
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupAddr returns the distinct PTR names for address without the trailing dot.
func (r *Resolver) LookupAddr(ctx context.Context, address string) ([]string, error) {
	if r.server == "" {
		return nil, fmt.Errorf("rdns: no server configured")
	}
	zone, err := dns.ReverseAddr(address)
	if err != nil {
		return nil, fmt.Errorf("rdns: %w", err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(zone, dns.TypePTR)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("rdns: query %s: %w", address, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		if resp.Rcode == dns.RcodeNameError {
			return nil, nil
		}
		return nil, fmt.Errorf("rdns: query %s: %s", address, dns.RcodeToString[resp.Rcode])
	}

	out := make([]string, 0, len(resp.Answer))
	seen := make(map[string]struct{}, len(resp.Answer))
	for _, rr := range resp.Answer {
		ptr, ok := rr.(*dns.PTR)
		if !ok {
			continue
		}
		name := strings.TrimSpace(strings.TrimSuffix(ptr.Ptr, "."))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}

// Hostname returns the most useful PTR name for address, or "" when none
// exists. Names that only echo the address back are skipped.
func (r *Resolver) Hostname(ctx context.Context, address string) (string, error) {
	names, err := r.LookupAddr(ctx, address)
	if err != nil || len(names) == 0 {
		return "", err
	}

	best, bestScore := "", -1
	for _, name := range names {
		_, score, ok := naming.NormalizeCandidate(naming.SourceReverseDNS, name)
		if !ok || score <= bestScore {
			continue
		}
		best, bestScore = name, score
	}
	return best, nil
}
