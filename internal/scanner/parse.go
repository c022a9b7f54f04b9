package scanner

import (
	"bufio"
	"regexp"
	"strings"

	"raspsentinel/sentinel-go/internal/netutil"
)

var (
	// 192.168.1.10	b8:27:eb:12:34:56	Raspberry Pi Foundation
	activeLine = regexp.MustCompile(`^(\d{1,3}(?:\.\d{1,3}){3})\s+([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})(?:\s+(.*))?$`)

	// 192.168.1.10 dev eth0 lladdr b8:27:eb:12:34:56 REACHABLE
	// "dev <iface>" is omitted when ip(8) is already filtered by device.
	passiveLine = regexp.MustCompile(`^(\d{1,3}(?:\.\d{1,3}){3})\s+(?:dev\s+(\S+)\s+)?lladdr\s+([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})(?:\s|$)`)
)

func parseActive(out string) []Entry {
	var entries []Entry
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		m := activeLine.FindStringSubmatch(strings.TrimSpace(s.Text()))
		if m == nil {
			continue
		}
		if netutil.ParseIPv4(m[1]) == nil {
			continue
		}
		mac, err := netutil.CanonicalMAC(m[2])
		if err != nil {
			continue
		}
		entries = append(entries, Entry{IP: m[1], MAC: mac, Vendor: strings.TrimSpace(m[3])})
	}
	return entries
}

func parsePassive(out, iface string) []Entry {
	var entries []Entry
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		m := passiveLine.FindStringSubmatch(strings.TrimSpace(s.Text()))
		if m == nil {
			continue
		}
		if m[2] != "" && m[2] != iface {
			continue
		}
		if netutil.ParseIPv4(m[1]) == nil {
			continue
		}
		mac, err := netutil.CanonicalMAC(m[3])
		if err != nil || mac == "00:00:00:00:00:00" {
			continue
		}
		entries = append(entries, Entry{IP: m[1], MAC: mac})
	}
	return entries
}
