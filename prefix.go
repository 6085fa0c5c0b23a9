package bgpspeak

import "net/netip"

// AFI/SAFI values used by MP_REACH_NLRI / MP_UNREACH_NLRI, per
// https://www.iana.org/assignments/address-family-numbers
const (
	AFI_IPV4 uint16 = 1
	AFI_IPV6 uint16 = 2

	SAFI_UNICAST uint8 = 1
)

// Family identifies an address family's RIB.
type Family struct {
	AFI  uint16
	SAFI uint8
}

func (f Family) String() string {
	switch f {
	case FamilyIPv4Unicast:
		return "ipv4-unicast"
	case FamilyIPv6Unicast:
		return "ipv6-unicast"
	default:
		return "unknown"
	}
}

var (
	FamilyIPv4Unicast = Family{AFI: AFI_IPV4, SAFI: SAFI_UNICAST}
	FamilyIPv6Unicast = Family{AFI: AFI_IPV6, SAFI: SAFI_UNICAST}
)

// FamilyOf returns the Family a prefix belongs to for RIB storage purposes.
// netip.Prefix is used as the opaque CIDR primitive throughout this package;
// FamilyOf and canonicalize are the thin wrapper this component owns.
func FamilyOf(p netip.Prefix) Family {
	if p.Addr().Is4() || p.Addr().Is4In6() {
		return FamilyIPv4Unicast
	}
	return FamilyIPv6Unicast
}

// canonicalize zeroes host bits below the mask length so two prefixes that
// describe the same network compare equal regardless of how their host bits
// arrived (e.g. over the wire from a sloppy peer).
func canonicalize(p netip.Prefix) netip.Prefix {
	return p.Masked()
}

// includes reports whether dst's high-order p.Bits() bits match p's network
// bits, i.e. whether p is a covering route for dst.
func includes(p netip.Prefix, dst netip.Addr) bool {
	return p.Contains(dst)
}
