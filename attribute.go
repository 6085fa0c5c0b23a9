package bgpspeak

import (
	"encoding/binary"
	"net/netip"
)

// path attribute type codes, per https://tools.ietf.org/html/rfc4271#section-5
// and https://tools.ietf.org/html/rfc6793 / https://tools.ietf.org/html/rfc4760
const (
	attrTypeOrigin          uint8 = 1
	attrTypeAsPath          uint8 = 2
	attrTypeNextHop         uint8 = 3
	attrTypeMultiExitDisc   uint8 = 4
	attrTypeLocalPref       uint8 = 5
	attrTypeAtomicAggregate uint8 = 6
	attrTypeAggregator      uint8 = 7
	attrTypeCommunities     uint8 = 8
	attrTypeMpReachNlri     uint8 = 14
	attrTypeMpUnreachNlri   uint8 = 15
	attrTypeAs4Path         uint8 = 17
	attrTypeAs4Aggregator   uint8 = 18
)

// Origin codes, per https://tools.ietf.org/html/rfc4271#section-4.3
const (
	OriginIGP        uint8 = 0
	OriginEGP        uint8 = 1
	OriginIncomplete uint8 = 2
)

// AS_PATH segment types, per https://tools.ietf.org/html/rfc4271#section-4.3
const (
	AsSet      uint8 = 1
	AsSequence uint8 = 2
)

// PathAttrFlags are the four flag bits carried alongside every path
// attribute's type code, per https://tools.ietf.org/html/rfc4271#section-4.3
type PathAttrFlags struct {
	Optional        bool
	Transitive      bool
	Partial         bool
	ExtendedLength  bool
}

func decodeFlags(b byte) PathAttrFlags {
	return PathAttrFlags{
		Optional:       b&0x80 != 0,
		Transitive:     b&0x40 != 0,
		Partial:        b&0x20 != 0,
		ExtendedLength: b&0x10 != 0,
	}
}

func (f PathAttrFlags) encode() byte {
	var b byte
	if f.Optional {
		b |= 0x80
	}
	if f.Transitive {
		b |= 0x40
	}
	if f.Partial {
		b |= 0x20
	}
	if f.ExtendedLength {
		b |= 0x10
	}
	return b
}

// wellKnownFlags and optionalTransitiveFlags are the canonical flag
// combinations this package emits. ExtendedLength is not part of them:
// encodeAttributes sets or clears it on every attribute, relayed ones
// included, from the length of the encoded value.
var (
	wellKnownFlags           = PathAttrFlags{Transitive: true}
	optionalTransitiveFlags  = PathAttrFlags{Optional: true, Transitive: true}
	optionalNonTransitive    = PathAttrFlags{Optional: true}
)

// AsPathSegment is one segment of an AS_PATH / AS4_PATH attribute.
type AsPathSegment struct {
	Type uint8
	ASNs []uint32
}

// PathAttr is a single decoded path attribute. Exactly one of the typed
// fields is meaningful, selected by Type; attributes this package does not
// model by name are carried in Raw with Type holding their wire type code.
type PathAttr struct {
	Type  uint8
	Flags PathAttrFlags

	Origin          uint8
	AsPath          []AsPathSegment
	NextHop         netip.Addr
	MultiExitDisc   uint32
	LocalPref       uint32
	Aggregator      Aggregator
	Communities     []uint32
	MpReach         MpReachNlri
	MpUnreach       MpUnreachNlri
	As4Aggregator   Aggregator

	// Raw holds the wire value for attributes not modeled above
	// (AtomicAggregate excepted, which carries no value at all) and is also
	// used as the decode/encode payload for AsPath/As4Path, Communities, etc.
	// when re-serializing unmodified bytes is cheaper than reassembling them.
	Raw []byte
}

// Aggregator is the value of the AGGREGATOR / AS4_AGGREGATOR attribute.
type Aggregator struct {
	ASN     uint32
	Address netip.Addr
}

// MpReachNlri is the value of the MP_REACH_NLRI attribute, per
// https://tools.ietf.org/html/rfc4760#section-3
type MpReachNlri struct {
	Family  Family
	NextHop []byte
	NLRI    []netip.Prefix
}

// MpUnreachNlri is the value of the MP_UNREACH_NLRI attribute.
type MpUnreachNlri struct {
	Family Family
	NLRI   []netip.Prefix
}

func isAsPathType(t uint8) bool { return t == attrTypeAsPath || t == attrTypeAs4Path }

func encodeAsPath(segs []AsPathSegment, fourOctet bool) []byte {
	var b []byte
	for _, s := range segs {
		if len(s.ASNs) == 0 {
			continue
		}
		width := 2
		if fourOctet {
			width = 4
		}
		hdr := []byte{s.Type, uint8(len(s.ASNs))}
		body := make([]byte, len(s.ASNs)*width)
		for i, asn := range s.ASNs {
			if fourOctet {
				binary.BigEndian.PutUint32(body[i*4:], asn)
			} else {
				binary.BigEndian.PutUint16(body[i*2:], uint16(asn))
			}
		}
		b = append(b, hdr...)
		b = append(b, body...)
	}
	return b
}

func decodeAsPath(b []byte, fourOctet bool) ([]AsPathSegment, error) {
	var segs []AsPathSegment
	width := 2
	if fourOctet {
		width = 4
	}
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, newNotificationError(newNotification(
				NOTIF_CODE_UPDATE_MESSAGE_ERR, NOTIF_SUBCODE_MALFORMED_AS_PATH, nil), true)
		}
		segType := b[0]
		segLen := int(b[1])
		need := 2 + segLen*width
		if len(b) < need {
			return nil, newNotificationError(newNotification(
				NOTIF_CODE_UPDATE_MESSAGE_ERR, NOTIF_SUBCODE_MALFORMED_AS_PATH, nil), true)
		}
		asns := make([]uint32, segLen)
		body := b[2:need]
		for i := 0; i < segLen; i++ {
			if fourOctet {
				asns[i] = binary.BigEndian.Uint32(body[i*4:])
			} else {
				asns[i] = uint32(binary.BigEndian.Uint16(body[i*2:]))
			}
		}
		segs = append(segs, AsPathSegment{Type: segType, ASNs: asns})
		b = b[need:]
	}
	return segs, nil
}

func encodeAggregator(a Aggregator, fourOctet bool) []byte {
	width := 2
	if fourOctet {
		width = 4
	}
	b := make([]byte, width+4)
	if fourOctet {
		binary.BigEndian.PutUint32(b, a.ASN)
	} else {
		binary.BigEndian.PutUint16(b, uint16(a.ASN))
	}
	if a.Address.Is4() {
		v4 := a.Address.As4()
		copy(b[width:], v4[:])
	}
	return b
}

func decodeAggregator(b []byte, fourOctet bool) (Aggregator, error) {
	width := 2
	if fourOctet {
		width = 4
	}
	if len(b) != width+4 {
		return Aggregator{}, newNotificationError(newNotification(
			NOTIF_CODE_UPDATE_MESSAGE_ERR, NOTIF_SUBCODE_ATTR_LEN_ERR, nil), true)
	}
	var asn uint32
	if fourOctet {
		asn = binary.BigEndian.Uint32(b)
	} else {
		asn = uint32(binary.BigEndian.Uint16(b))
	}
	var v4 [4]byte
	copy(v4[:], b[width:])
	return Aggregator{ASN: asn, Address: netip.AddrFrom4(v4)}, nil
}

// AttributeSet is an ordered collection of path attributes, at most one per
// Type, mirroring how update messages carry them on the wire.
type AttributeSet struct {
	attrs []PathAttr
}

// NewAttributeSet returns an empty set.
func NewAttributeSet() *AttributeSet {
	return &AttributeSet{}
}

// Clone returns a deep-enough copy for independent mutation (prepend,
// dropNonTransitive) without aliasing the receiver's slices.
func (s *AttributeSet) Clone() *AttributeSet {
	out := &AttributeSet{attrs: make([]PathAttr, len(s.attrs))}
	for i, a := range s.attrs {
		cp := a
		cp.AsPath = append([]AsPathSegment(nil), a.AsPath...)
		for j := range cp.AsPath {
			cp.AsPath[j].ASNs = append([]uint32(nil), a.AsPath[j].ASNs...)
		}
		cp.Communities = append([]uint32(nil), a.Communities...)
		cp.Raw = append([]byte(nil), a.Raw...)
		out.attrs[i] = cp
	}
	return out
}

// Get returns the attribute of the given type, if present.
func (s *AttributeSet) Get(t uint8) (PathAttr, bool) {
	for _, a := range s.attrs {
		if a.Type == t {
			return a, true
		}
	}
	return PathAttr{}, false
}

// add inserts a, replacing any existing attribute of the same type. This is
// the only mutator used while decoding, so attribute order on the wire is
// preserved for re-encoding.
func (s *AttributeSet) add(a PathAttr) {
	for i, existing := range s.attrs {
		if existing.Type == a.Type {
			s.attrs[i] = a
			return
		}
	}
	s.attrs = append(s.attrs, a)
}

// update is an alias of add for attributes assembled by a host
// (e.g. when replacing NEXT_HOP before re-advertising a route).
func (s *AttributeSet) update(a PathAttr) {
	s.add(a)
}

// drop removes the attribute of type t, if present.
func (s *AttributeSet) drop(t uint8) {
	for i, a := range s.attrs {
		if a.Type == t {
			s.attrs = append(s.attrs[:i], s.attrs[i+1:]...)
			return
		}
	}
}

// dropNonTransitive removes every optional non-transitive attribute, as
// required before re-advertising a route learned from one neighbor to
// another; MULTI_EXIT_DISC, being optional non-transitive, is removed too. It
// reports whether any attribute was actually removed.
//
// This fixes a bug present in the reference implementation this behavior is
// modeled on, which erased matching elements from the underlying slice
// while iterating forward over it without adjusting the loop index after an
// erase, silently skipping the element following any dropped attribute.
func (s *AttributeSet) dropNonTransitive() bool {
	before := len(s.attrs)
	kept := s.attrs[:0]
	for _, a := range s.attrs {
		if a.Flags.Optional && !a.Flags.Transitive {
			continue
		}
		kept = append(kept, a)
	}
	s.attrs = kept
	return len(s.attrs) != before
}

// prepend adds asn to the front of the AS_SEQUENCE at the start of the
// AS_PATH, creating one if the path is empty or begins with an AS_SET.
func (s *AttributeSet) prepend(asn uint32) {
	a, ok := s.Get(attrTypeAsPath)
	if !ok {
		a = PathAttr{Type: attrTypeAsPath, Flags: wellKnownFlags}
	}
	if len(a.AsPath) > 0 && a.AsPath[0].Type == AsSequence {
		a.AsPath[0].ASNs = append([]uint32{asn}, a.AsPath[0].ASNs...)
	} else {
		a.AsPath = append([]AsPathSegment{{Type: AsSequence, ASNs: []uint32{asn}}}, a.AsPath...)
	}
	s.add(a)
}

// restoreAsPath reconciles a two-octet AS_PATH against an AS4_PATH carried
// alongside it from a peer that does not support four-octet ASNs end to
// end, per https://tools.ietf.org/html/rfc6793#section-4.2.3. The AS4_PATH
// attribute is consumed (dropped from the set) once merged.
func (s *AttributeSet) restoreAsPath() {
	as4, ok := s.Get(attrTypeAs4Path)
	if !ok {
		return
	}
	defer s.drop(attrTypeAs4Path)

	asPath, _ := s.Get(attrTypeAsPath)

	asPathLen := 0
	for _, seg := range asPath.AsPath {
		asPathLen += len(seg.ASNs)
	}
	as4Count := 0
	for _, seg := range as4.AsPath {
		as4Count += len(seg.ASNs)
	}
	if as4Count == 0 || as4Count > asPathLen {
		// AS4_PATH is longer than AS_PATH, which cannot happen on a
		// well-formed update (RFC 6793 section 4.2.3); ignore it rather
		// than guess at a merge.
		return
	}

	merged := make([]AsPathSegment, len(asPath.AsPath))
	copy(merged, asPath.AsPath)
	remaining := as4Count
	for i := len(merged) - 1; i >= 0 && remaining > 0; i-- {
		seg := merged[i]
		n := len(seg.ASNs)
		take := n
		if take > remaining {
			take = remaining
		}
		newASNs := append([]uint32(nil), seg.ASNs...)
		srcOffset := remaining - take
		as4Flat := flattenAsPath(as4.AsPath)
		for k := 0; k < take; k++ {
			newASNs[n-take+k] = as4Flat[srcOffset+k]
		}
		seg.ASNs = newASNs
		merged[i] = seg
		remaining -= take
	}
	asPath.AsPath = merged
	asPath.Type = attrTypeAsPath
	asPath.Flags = wellKnownFlags
	s.add(asPath)
}

func flattenAsPath(segs []AsPathSegment) []uint32 {
	var out []uint32
	for _, s := range segs {
		out = append(out, s.ASNs...)
	}
	return out
}

// downgradeAsPath prepares attributes for a peer that does not support
// four-octet ASNs: any ASN that doesn't fit in two octets is replaced with
// AS_TRANS in AS_PATH, and the full four-octet path is preserved in a new
// AS4_PATH attribute — unless every ASN already fits in two octets, in
// which case no AS4_PATH is attached at all, since attaching one for a path
// that needs no reconciliation only adds noise a two-octet-only neighbor
// will never resolve.
func (s *AttributeSet) downgradeAsPath() {
	asPath, ok := s.Get(attrTypeAsPath)
	if !ok {
		return
	}
	needsDowngrade := false
	for _, seg := range asPath.AsPath {
		for _, a := range seg.ASNs {
			if a > 0xFFFF {
				needsDowngrade = true
			}
		}
	}
	if !needsDowngrade {
		s.drop(attrTypeAs4Path)
		return
	}

	as4 := PathAttr{Type: attrTypeAs4Path, Flags: optionalTransitiveFlags, AsPath: asPath.AsPath}

	downgraded := make([]AsPathSegment, len(asPath.AsPath))
	for i, seg := range asPath.AsPath {
		asns := make([]uint32, len(seg.ASNs))
		for j, a := range seg.ASNs {
			if a > 0xFFFF {
				asns[j] = uint32(asTrans)
			} else {
				asns[j] = a
			}
		}
		downgraded[i] = AsPathSegment{Type: seg.Type, ASNs: asns}
	}
	asPath.AsPath = downgraded
	s.add(asPath)
	s.add(as4)
}

// Attrs returns the attributes in wire order.
func (s *AttributeSet) Attrs() []PathAttr {
	return s.attrs
}

// Len reports the number of distinct attribute types present.
func (s *AttributeSet) Len() int {
	return len(s.attrs)
}
