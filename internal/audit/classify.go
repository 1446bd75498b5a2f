package audit

import (
	"net"
	"net/netip"
	"strings"
)

// IPClass is the coarse category of a client address.
type IPClass int

const (
	IPInvalid IPClass = iota
	IPLoopback
	IPPrivate
	IPPublic
)

const (
	notApplicable = "N/A"
	unknown       = "Unknown"
)

// reservedPrefixes are special-purpose ranges that are never geolocated.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b:1::/48"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001::/23"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// ParseClientIP accepts a bare address or host:port. IPv4-mapped IPv6
// addresses are unmapped.
func ParseClientIP(raw string) (netip.Addr, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}

// Classify buckets addr.
func Classify(addr netip.Addr) IPClass {
	switch {
	case !addr.IsValid():
		return IPInvalid
	case addr.IsLoopback():
		return IPLoopback
	case addr.IsPrivate(),
		addr.IsUnspecified(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast():
		return IPPrivate
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return IPPrivate
		}
	}
	return IPPublic
}

// fixedLocation returns the canned city/country for non-public classes.
func fixedLocation(class IPClass) (city, country string) {
	switch class {
	case IPLoopback:
		return "Localhost", notApplicable
	case IPPrivate:
		return "Private Network", notApplicable
	default:
		return "Unknown IP", notApplicable
	}
}
