package rdns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func startServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Net: "udp", Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("dns server did not start")
	}
	return pc.LocalAddr().String()
}

func TestLookupAddr_returnsDistinctNames(t *testing.T) {
	addr := startServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if q.Qtype == dns.TypePTR && q.Name == "5.1.168.192.in-addr.arpa." {
			hdr := dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60}
			m.Answer = append(m.Answer,
				&dns.PTR{Hdr: hdr, Ptr: "printer.lan."},
				&dns.PTR{Hdr: hdr, Ptr: "PRINTER.lan."},
				&dns.PTR{Hdr: hdr, Ptr: "office-printer.lan."},
			)
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	r := NewResolver(addr, time.Second)
	names, err := r.LookupAddr(context.Background(), "192.168.1.5")
	if err != nil {
		t.Fatalf("LookupAddr: %v", err)
	}
	if len(names) != 2 || names[0] != "printer.lan" || names[1] != "office-printer.lan" {
		t.Fatalf("unexpected names %v", names)
	}

	host, err := r.Hostname(context.Background(), "192.168.1.6")
	if err != nil {
		t.Fatalf("Hostname: %v", err)
	}
	if host != "" {
		t.Fatalf("expected no hostname for NXDOMAIN, got %q", host)
	}
}

func TestHostname_skipsReverseZoneEcho(t *testing.T) {
	addr := startServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		hdr := dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60}
		m.Answer = append(m.Answer,
			&dns.PTR{Hdr: hdr, Ptr: "7.1.168.192.in-addr.arpa."},
			&dns.PTR{Hdr: hdr, Ptr: "nas.lan."},
		)
		_ = w.WriteMsg(m)
	})

	host, err := NewResolver(addr, time.Second).Hostname(context.Background(), "192.168.1.7")
	if err != nil {
		t.Fatalf("Hostname: %v", err)
	}
	if host != "nas.lan" {
		t.Fatalf("expected nas.lan, got %q", host)
	}
}

func TestLookupAddr_invalidAddress(t *testing.T) {
	r := NewResolver("127.0.0.1", time.Second)
	if _, err := r.LookupAddr(context.Background(), "not-an-ip"); err == nil {
		t.Fatalf("expected error for invalid address")
	}
}

func TestNewResolver_defaultsPort(t *testing.T) {
	r := NewResolver("192.168.1.1", 0)
	if r.server != "192.168.1.1:53" {
		t.Fatalf("unexpected server %q", r.server)
	}
	if r.client.Timeout != defaultTimeout {
		t.Fatalf("unexpected timeout %v", r.client.Timeout)
	}
	if _, err := NewResolver("", 0).LookupAddr(context.Background(), "192.168.1.5"); err == nil {
		t.Fatalf("expected error without server")
	}
}
