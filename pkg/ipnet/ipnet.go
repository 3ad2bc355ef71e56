package ipnet

import (
	"bytes"
	"fmt"
	"net"
	"strings"
)

// List classifies addresses against a set of networks, typically the
// private address space of the monitored estate.
type List struct {
	nets []*net.IPNet
}

// ParseNetworks builds a List from CIDR strings.
func ParseNetworks(cidrs []string) (List, error) {
	var l List
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(strings.TrimSpace(c))
		if err != nil {
			return List{}, fmt.Errorf("failed to parse network %q: %w", c, err)
		}
		l.nets = append(l.nets, n)
	}
	return l, nil
}

// Contains reports whether ip falls inside any of the networks.
// Unparsable addresses are never contained.
func (l List) Contains(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// IsPublic reports whether ip parses and falls outside every network in
// the list. Unparsable addresses are treated as non-public.
func (l List) IsPublic(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(parsed) {
			return false
		}
	}
	return true
}

// Matcher matches a single address against one exclude term: an exact
// address, a CIDR network, or an inclusive "start-end" range.
type Matcher struct {
	exact net.IP
	cidr  *net.IPNet
	lo    net.IP
	hi    net.IP
}

// Match reports whether ip is covered by the term.
func (m Matcher) Match(ip net.IP) bool {
	if ip == nil {
		return false
	}
	switch {
	case m.exact != nil:
		return m.exact.Equal(ip)
	case m.cidr != nil:
		return m.cidr.Contains(ip)
	default:
		v := ip.To16()
		return bytes.Compare(v, m.lo.To16()) >= 0 && bytes.Compare(v, m.hi.To16()) <= 0
	}
}

// ParseMatchers parses a comma-separated exclude expression. Each term
// is an exact IP, a CIDR, or a dash range. Empty terms are skipped.
func ParseMatchers(expr string) ([]Matcher, error) {
	var out []Matcher
	for _, term := range strings.Split(expr, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		m, err := parseMatcher(term)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func parseMatcher(term string) (Matcher, error) {
	if strings.Contains(term, "/") {
		_, n, err := net.ParseCIDR(term)
		if err != nil {
			return Matcher{}, fmt.Errorf("invalid network %q: %w", term, err)
		}
		return Matcher{cidr: n}, nil
	}
	if strings.Contains(term, "-") {
		parts := strings.SplitN(term, "-", 2)
		lo := net.ParseIP(strings.TrimSpace(parts[0]))
		hi := net.ParseIP(strings.TrimSpace(parts[1]))
		if lo == nil || hi == nil {
			return Matcher{}, fmt.Errorf("invalid address range %q", term)
		}
		if bytes.Compare(lo.To16(), hi.To16()) > 0 {
			lo, hi = hi, lo
		}
		return Matcher{lo: lo, hi: hi}, nil
	}
	ip := net.ParseIP(term)
	if ip == nil {
		return Matcher{}, fmt.Errorf("invalid address %q", term)
	}
	return Matcher{exact: ip}, nil
}

// MatchAny reports whether ip is covered by at least one matcher.
func MatchAny(matchers []Matcher, ip string) bool {
	if len(matchers) == 0 {
		return false
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, m := range matchers {
		if m.Match(parsed) {
			return true
		}
	}
	return false
}
