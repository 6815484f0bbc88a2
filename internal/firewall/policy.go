// Package firewall implements the access policy component of spec.md
// §4.4: a synchronous predicate asked before dialing upstream. Loopback
// is always denied — §9 flags the teacher's C release build as buggy
// (its deny branch compiles out under NDEBUG, so release silently allows
// everything); this implementation does not reproduce that bug under any
// build configuration (see SPEC_FULL.md's Open Question resolution).
package firewall

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"ssrgate/internal/shared/types"
)

type portRange struct{ start, end uint16 }

type parsedRule struct {
	original *types.FirewallRule
	destNets []*net.IPNet
	ports    []portRange
}

// Policy evaluates the fixed loopback deny followed by any configured
// priority-ordered CIDR/port rules (the teacher's internal/firewall/engine.go
// shape, generalized from spec.md's hardcoded check).
type Policy struct {
	rules []*parsedRule
}

// NewPolicy parses rule configuration. A malformed rule is skipped with
// an error collected in the returned slice rather than failing the whole
// policy, mirroring the teacher's engine.OnSettingsUpdate behavior of
// logging and skipping bad rules.
func NewPolicy(rules []types.FirewallRule) (*Policy, []error) {
	p := &Policy{}
	var errs []error
	for i := range rules {
		pr, err := parseRule(&rules[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.rules = append(p.rules, pr)
	}
	sort.SliceStable(p.rules, func(i, j int) bool {
		return p.rules[i].original.Priority < p.rules[j].original.Priority
	})
	return p, errs
}

// Allow reports whether a connection to addr may be dialed. Address
// families other than IPv4/IPv6 are denied (spec.md §4.4).
func (p *Policy) Allow(addr net.Addr) bool {
	ip, port := hostPort(addr)
	if ip == nil {
		return false
	}
	if isLoopback(ip) {
		return false
	}
	for _, r := range p.rules {
		if r.matches(ip, port) {
			return r.original.Action == "allow"
		}
	}
	return true
}

func hostPort(addr net.Addr) (net.IP, uint16) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP, uint16(a.Port)
	case *net.UDPAddr:
		return a.IP, uint16(a.Port)
	case *net.IPAddr:
		return a.IP, 0
	default:
		return nil, 0
	}
}

// isLoopback denies IPv4 127.0.0.0/8, IPv6 ::1, and IPv4-mapped
// ::ffff:127.0.0.0/8 (spec.md §4.4), unconditionally.
func isLoopback(ip net.IP) bool {
	// To4 unwraps IPv4-mapped IPv6 addresses (::ffff:127.0.0.0/8) to their
	// 4-byte form, so this one check covers both IPv4 127.0.0.0/8 and the
	// mapped range; true IPv6 loopback is the separate ::1 check.
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 127
	}
	return ip.Equal(net.IPv6loopback)
}

func (r *parsedRule) matches(ip net.IP, port uint16) bool {
	if len(r.destNets) > 0 {
		match := false
		for _, n := range r.destNets {
			if n.Contains(ip) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(r.ports) > 0 {
		match := false
		for _, pr := range r.ports {
			if port >= pr.start && port <= pr.end {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

func parseRule(rule *types.FirewallRule) (*parsedRule, error) {
	pr := &parsedRule{original: rule}

	nets, err := parseCIDRs(rule.DestCIDR)
	if err != nil {
		return nil, err
	}
	pr.destNets = nets

	ranges, err := parsePortRanges(rule.DestPort)
	if err != nil {
		return nil, err
	}
	pr.ports = ranges

	if rule.Action != "allow" && rule.Action != "deny" {
		return nil, fmt.Errorf("firewall: invalid action %q", rule.Action)
	}
	return pr, nil
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	if len(cidrs) == 0 {
		return nil, nil
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, raw := range cidrs {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if !strings.Contains(trimmed, "/") {
			ip := net.ParseIP(trimmed)
			if ip == nil {
				return nil, fmt.Errorf("firewall: invalid IP %q", trimmed)
			}
			if ip.To4() != nil {
				trimmed += "/32"
			} else {
				trimmed += "/128"
			}
		}
		_, network, err := net.ParseCIDR(trimmed)
		if err != nil {
			return nil, fmt.Errorf("firewall: invalid CIDR %q: %w", trimmed, err)
		}
		nets = append(nets, network)
	}
	return nets, nil
}

func parsePortRanges(spec string) ([]portRange, error) {
	if spec == "" {
		return nil, nil
	}
	var ranges []portRange
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err1 := strconv.ParseUint(bounds[0], 10, 16)
			end, err2 := strconv.ParseUint(bounds[1], 10, 16)
			if err1 != nil || err2 != nil || start == 0 || start > end {
				return nil, fmt.Errorf("firewall: invalid port range %q", part)
			}
			ranges = append(ranges, portRange{uint16(start), uint16(end)})
		} else {
			port, err := strconv.ParseUint(part, 10, 16)
			if err != nil || port == 0 {
				return nil, fmt.Errorf("firewall: invalid port %q", part)
			}
			ranges = append(ranges, portRange{uint16(port), uint16(port)})
		}
	}
	return ranges, nil
}
