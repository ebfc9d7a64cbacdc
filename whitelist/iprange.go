// Package whitelist implements CIDR-based source IP allow-listing for the
// security-policy pipeline: an immutable IPRange matcher plus a Validator
// policy that combines individually-allowed addresses, CIDR ranges, and
// user-agent hygiene checks.
package whitelist

import (
	"fmt"
	"net"
)

// IPRange is an immutable parsed CIDR range with a precomputed mask for
// constant-time containment checks. The mask length always matches the
// address family: 4 bytes for IPv4, 16 bytes for IPv6.
type IPRange struct {
	network net.IP
	prefix  int
	mask    net.IPMask
}

// ParseIPRange parses CIDR notation ("10.0.0.0/8", "2001:db8::/32") into an
// IPRange. Host bits below the prefix are masked off. A malformed CIDR is an
// argument fault, not a security event.
func ParseIPRange(cidr string) (*IPRange, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}

	prefix, _ := ipnet.Mask.Size()

	// Normalize to the 4-byte form for IPv4 so mask length matches family.
	network := ipnet.IP
	if v4 := ip.To4(); v4 != nil {
		network = ipnet.IP.To4()
	}

	return &IPRange{
		network: network,
		prefix:  prefix,
		mask:    net.CIDRMask(prefix, len(network)*8),
	}, nil
}

// CIDRNotation returns the canonical "network/prefix" form. For canonical
// input, ParseIPRange round-trips: ParseIPRange(s).CIDRNotation() == s.
func (r *IPRange) CIDRNotation() string {
	return fmt.Sprintf("%s/%d", r.network.String(), r.prefix)
}

// PrefixLength returns the prefix length in bits.
func (r *IPRange) PrefixLength() int {
	return r.prefix
}

// IsIPv4 reports whether the range is an IPv4 range.
func (r *IPRange) IsIPv4() bool {
	return len(r.network) == net.IPv4len
}

// Contains reports whether ip falls inside the range. Address families must
// match: an IPv6 address is never contained in an IPv4 range and vice versa,
// with no IPv4-mapped-IPv6 coercion. Containment ANDs each address byte with
// the precomputed mask byte and requires equality with the network across
// all bytes.
func (r *IPRange) Contains(ip net.IP) bool {
	var addr net.IP
	if r.IsIPv4() {
		addr = ip.To4()
	} else {
		if ip.To4() != nil {
			return false
		}
		addr = ip.To16()
	}
	if addr == nil || len(addr) != len(r.network) {
		return false
	}

	for i := range addr {
		if addr[i]&r.mask[i] != r.network[i] {
			return false
		}
	}
	return true
}
