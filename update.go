package bgpspeak

import (
	"encoding/binary"
	"net/netip"
)

// Update is a decoded UPDATE message, per https://tools.ietf.org/html/rfc4271#section-4.3
type Update struct {
	Withdrawn []netip.Prefix
	Attrs     *AttributeSet
	NLRI      []netip.Prefix
}

// updateMessage is the raw wire form carried inside message dispatch; it is
// decoded into an *Update lazily by decodeUpdate, mirroring how the teacher
// keeps UPDATE bytes untouched until a caller asks for a typed view.
type updateMessage []byte

func (updateMessage) messageType() uint8 { return updateMessageType }

// decodeUpdate parses a raw UPDATE message body (already stripped of the
// 19-octet header) into prefixes and path attributes. fourOctet selects
// whether AS_PATH / AGGREGATOR carry two- or four-octet ASNs, as negotiated
// by the session's capability exchange.
func decodeUpdate(b []byte, fourOctet bool) (*Update, error) {
	if len(b) < 2 {
		return nil, attrErr(NOTIF_SUBCODE_MALFORMED_ATTR_LIST)
	}
	withdrawnLen := int(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]
	if len(b) < withdrawnLen {
		return nil, attrErr(NOTIF_SUBCODE_MALFORMED_ATTR_LIST)
	}
	withdrawn, err := decodePrefixes(b[:withdrawnLen], FamilyIPv4Unicast)
	if err != nil {
		return nil, err
	}
	b = b[withdrawnLen:]

	if len(b) < 2 {
		return nil, attrErr(NOTIF_SUBCODE_MALFORMED_ATTR_LIST)
	}
	attrLen := int(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]
	if len(b) < attrLen {
		return nil, attrErr(NOTIF_SUBCODE_MALFORMED_ATTR_LIST)
	}
	attrBytes := b[:attrLen]
	b = b[attrLen:]

	attrs, err := decodeAttributes(attrBytes, fourOctet)
	if err != nil {
		return nil, err
	}

	nlri, err := decodePrefixes(b, FamilyIPv4Unicast)
	if err != nil {
		return nil, err
	}

	return &Update{Withdrawn: withdrawn, Attrs: attrs, NLRI: nlri}, nil
}

func attrErr(subcode uint8) error {
	return newNotificationError(newNotification(NOTIF_CODE_UPDATE_MESSAGE_ERR, subcode, nil), true)
}

// decodeAttributes parses the path attribute block of an UPDATE message.
func decodeAttributes(b []byte, fourOctet bool) (*AttributeSet, error) {
	s := NewAttributeSet()
	for len(b) > 0 {
		if len(b) < 3 {
			return nil, attrErr(NOTIF_SUBCODE_MALFORMED_ATTR_LIST)
		}
		flags := decodeFlags(b[0])
		typ := b[1]
		var length int
		var headerLen int
		if flags.ExtendedLength {
			if len(b) < 4 {
				return nil, attrErr(NOTIF_SUBCODE_MALFORMED_ATTR_LIST)
			}
			length = int(binary.BigEndian.Uint16(b[2:4]))
			headerLen = 4
		} else {
			length = int(b[2])
			headerLen = 3
		}
		if len(b) < headerLen+length {
			return nil, attrErr(NOTIF_SUBCODE_ATTR_LEN_ERR)
		}
		value := b[headerLen : headerLen+length]
		b = b[headerLen+length:]

		attr, err := decodeAttrValue(typ, flags, value, fourOctet)
		if err != nil {
			// RFC 7606: an attribute-discard error drops just this
			// attribute and continues; callers that need
			// treat-as-withdraw semantics inspect the returned error.
			if isDiscardable(err) {
				continue
			}
			return nil, err
		}
		s.add(attr)
	}
	return s, nil
}

func isDiscardable(err error) bool {
	ne, ok := err.(*notificationError)
	if !ok {
		return false
	}
	n := ne.notification
	return n.Code == NOTIF_CODE_UPDATE_MESSAGE_ERR && n.Subcode == NOTIF_SUBCODE_ATTR_LEN_ERR
}

func decodeAttrValue(typ uint8, flags PathAttrFlags, value []byte, fourOctet bool) (PathAttr, error) {
	a := PathAttr{Type: typ, Flags: flags}
	switch typ {
	case attrTypeOrigin:
		if len(value) != 1 {
			return a, attrErr(NOTIF_SUBCODE_ATTR_LEN_ERR)
		}
		a.Origin = value[0]
	case attrTypeAsPath, attrTypeAs4Path:
		fo := fourOctet
		if typ == attrTypeAs4Path {
			fo = true
		}
		segs, err := decodeAsPath(value, fo)
		if err != nil {
			return a, err
		}
		a.AsPath = segs
	case attrTypeNextHop:
		if len(value) != 4 {
			return a, attrErr(NOTIF_SUBCODE_ATTR_LEN_ERR)
		}
		var v4 [4]byte
		copy(v4[:], value)
		a.NextHop = netip.AddrFrom4(v4)
	case attrTypeMultiExitDisc:
		if len(value) != 4 {
			return a, attrErr(NOTIF_SUBCODE_ATTR_LEN_ERR)
		}
		a.MultiExitDisc = binary.BigEndian.Uint32(value)
	case attrTypeLocalPref:
		if len(value) != 4 {
			return a, attrErr(NOTIF_SUBCODE_ATTR_LEN_ERR)
		}
		a.LocalPref = binary.BigEndian.Uint32(value)
	case attrTypeAtomicAggregate:
		// no value
	case attrTypeAggregator:
		agg, err := decodeAggregator(value, fourOctet)
		if err != nil {
			return a, err
		}
		a.Aggregator = agg
	case attrTypeAs4Aggregator:
		agg, err := decodeAggregator(value, true)
		if err != nil {
			return a, err
		}
		a.As4Aggregator = agg
	case attrTypeCommunities:
		if len(value)%4 != 0 {
			return a, attrErr(NOTIF_SUBCODE_ATTR_LEN_ERR)
		}
		for i := 0; i < len(value); i += 4 {
			a.Communities = append(a.Communities, binary.BigEndian.Uint32(value[i:i+4]))
		}
	case attrTypeMpReachNlri:
		mp, err := decodeMpReach(value)
		if err != nil {
			return a, err
		}
		a.MpReach = mp
	case attrTypeMpUnreachNlri:
		mp, err := decodeMpUnreach(value)
		if err != nil {
			return a, err
		}
		a.MpUnreach = mp
	default:
		a.Raw = append([]byte(nil), value...)
	}
	return a, nil
}

func decodeMpReach(b []byte) (MpReachNlri, error) {
	if len(b) < 5 {
		return MpReachNlri{}, attrErr(NOTIF_SUBCODE_ATTR_LEN_ERR)
	}
	f := Family{AFI: binary.BigEndian.Uint16(b[0:2]), SAFI: b[2]}
	nhLen := int(b[3])
	b = b[4:]
	if len(b) < nhLen+1 {
		return MpReachNlri{}, attrErr(NOTIF_SUBCODE_ATTR_LEN_ERR)
	}
	nh := append([]byte(nil), b[:nhLen]...)
	b = b[nhLen:]
	// one reserved octet
	b = b[1:]
	nlri, err := decodePrefixes(b, f)
	if err != nil {
		return MpReachNlri{}, err
	}
	return MpReachNlri{Family: f, NextHop: nh, NLRI: nlri}, nil
}

func decodeMpUnreach(b []byte) (MpUnreachNlri, error) {
	if len(b) < 3 {
		return MpUnreachNlri{}, attrErr(NOTIF_SUBCODE_ATTR_LEN_ERR)
	}
	f := Family{AFI: binary.BigEndian.Uint16(b[0:2]), SAFI: b[2]}
	nlri, err := decodePrefixes(b[3:], f)
	if err != nil {
		return MpUnreachNlri{}, err
	}
	return MpUnreachNlri{Family: f, NLRI: nlri}, nil
}

// decodePrefixes parses the length-prefixed NLRI encoding shared by the
// UPDATE withdrawn/NLRI fields and MP_REACH/MP_UNREACH, per
// https://tools.ietf.org/html/rfc4271#section-4.3
func decodePrefixes(b []byte, f Family) ([]netip.Prefix, error) {
	var out []netip.Prefix
	addrLen := 4
	if f.AFI == AFI_IPV6 {
		addrLen = 16
	}
	for len(b) > 0 {
		bits := int(b[0])
		b = b[1:]
		byteLen := (bits + 7) / 8
		if byteLen > addrLen || len(b) < byteLen {
			return nil, attrErr(NOTIF_SUBCODE_INVALID_NETWORK_FIELD)
		}
		addrBytes := make([]byte, addrLen)
		copy(addrBytes, b[:byteLen])
		b = b[byteLen:]

		var addr netip.Addr
		if addrLen == 4 {
			var v4 [4]byte
			copy(v4[:], addrBytes)
			addr = netip.AddrFrom4(v4)
		} else {
			var v6 [16]byte
			copy(v6[:], addrBytes)
			addr = netip.AddrFrom16(v6)
		}
		p := netip.PrefixFrom(addr, bits)
		out = append(out, canonicalize(p))
	}
	return out, nil
}

func encodePrefixes(prefixes []netip.Prefix) []byte {
	var b []byte
	for _, p := range prefixes {
		bits := p.Bits()
		byteLen := (bits + 7) / 8
		b = append(b, uint8(bits))
		addr := p.Addr()
		if addr.Is4() {
			v4 := addr.As4()
			b = append(b, v4[:byteLen]...)
		} else {
			v6 := addr.As16()
			b = append(b, v6[:byteLen]...)
		}
	}
	return b
}

// encodeUpdate serializes u into one or more wire-ready UPDATE messages,
// never exceeding maxMessageLength in any single message. Splitting only
// occurs across the withdrawn/NLRI prefix lists; a single attribute set is
// assumed to always fit (the planner is responsible for not producing an
// oversized one).
func encodeUpdate(u *Update, fourOctet bool) ([][]byte, error) {
	attrBytes, err := encodeAttributes(u.Attrs, fourOctet)
	if err != nil {
		return nil, err
	}

	const fixedOverhead = headerLength + 2 + 2 // withdrawn len + attr len fields
	budget := maxMessageLength - fixedOverhead - len(attrBytes)
	if budget < 0 {
		budget = 0
	}

	var messages [][]byte
	withdrawnChunks := chunkPrefixes(u.Withdrawn, maxMessageLength-fixedOverhead)
	nlriChunks := chunkPrefixes(u.NLRI, budget)
	if len(withdrawnChunks) == 0 {
		withdrawnChunks = [][]netip.Prefix{nil}
	}
	if len(nlriChunks) == 0 {
		nlriChunks = [][]netip.Prefix{nil}
	}
	for i := 0; i < len(withdrawnChunks) || i < len(nlriChunks); i++ {
		var w, n []netip.Prefix
		if i < len(withdrawnChunks) {
			w = withdrawnChunks[i]
		}
		if i < len(nlriChunks) {
			n = nlriChunks[i]
		}
		if len(w) > 0 && fixedOverhead+len(encodePrefixes(w))+len(attrBytes)+len(encodePrefixes(n)) > maxMessageLength {
			// the withdrawn chunk does not fit beside the attributes and
			// NLRI, so it goes out in a message of its own
			messages = append(messages, buildUpdateBytes(w, nil, nil))
			if len(n) == 0 {
				continue
			}
			w = nil
		}
		messages = append(messages, buildUpdateBytes(w, attrBytes, n))
	}
	return messages, nil
}

func buildUpdateBytes(withdrawn []netip.Prefix, attrBytes []byte, nlri []netip.Prefix) []byte {
	wb := encodePrefixes(withdrawn)
	nb := encodePrefixes(nlri)
	b := make([]byte, 0, 4+len(wb)+len(attrBytes)+len(nb))
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(wb)))
	b = append(b, lenBuf...)
	b = append(b, wb...)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(attrBytes)))
	b = append(b, lenBuf...)
	b = append(b, attrBytes...)
	b = append(b, nb...)
	return prependHeader(b, updateMessageType)
}

// chunkPrefixes splits prefixes into groups whose encoded size stays within
// budget octets.
func chunkPrefixes(prefixes []netip.Prefix, budget int) [][]netip.Prefix {
	if len(prefixes) == 0 {
		return nil
	}
	var chunks [][]netip.Prefix
	var cur []netip.Prefix
	used := 0
	for _, p := range prefixes {
		sz := 1 + (p.Bits()+7)/8
		if used+sz > budget && len(cur) > 0 {
			chunks = append(chunks, cur)
			cur = nil
			used = 0
		}
		cur = append(cur, p)
		used += sz
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

func encodeAttributes(s *AttributeSet, fourOctet bool) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	var out []byte
	for _, a := range s.attrs {
		value := encodeAttrValue(a, fourOctet)
		flags := a.Flags
		flags.ExtendedLength = len(value) > 255
		out = append(out, flags.encode(), a.Type)
		if flags.ExtendedLength {
			lenBuf := make([]byte, 2)
			binary.BigEndian.PutUint16(lenBuf, uint16(len(value)))
			out = append(out, lenBuf...)
		} else {
			out = append(out, uint8(len(value)))
		}
		out = append(out, value...)
	}
	return out, nil
}

func encodeAttrValue(a PathAttr, fourOctet bool) []byte {
	switch a.Type {
	case attrTypeOrigin:
		return []byte{a.Origin}
	case attrTypeAsPath:
		return encodeAsPath(a.AsPath, fourOctet)
	case attrTypeAs4Path:
		return encodeAsPath(a.AsPath, true)
	case attrTypeNextHop:
		v4 := a.NextHop.As4()
		return v4[:]
	case attrTypeMultiExitDisc:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, a.MultiExitDisc)
		return b
	case attrTypeLocalPref:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, a.LocalPref)
		return b
	case attrTypeAtomicAggregate:
		return nil
	case attrTypeAggregator:
		return encodeAggregator(a.Aggregator, fourOctet)
	case attrTypeAs4Aggregator:
		return encodeAggregator(a.As4Aggregator, true)
	case attrTypeCommunities:
		b := make([]byte, len(a.Communities)*4)
		for i, c := range a.Communities {
			binary.BigEndian.PutUint32(b[i*4:], c)
		}
		return b
	case attrTypeMpReachNlri:
		return encodeMpReach(a.MpReach)
	case attrTypeMpUnreachNlri:
		return encodeMpUnreach(a.MpUnreach)
	default:
		return a.Raw
	}
}

func encodeMpReach(mp MpReachNlri) []byte {
	b := make([]byte, 4, 4+len(mp.NextHop)+1+32)
	binary.BigEndian.PutUint16(b[0:2], mp.Family.AFI)
	b[2] = mp.Family.SAFI
	b[3] = uint8(len(mp.NextHop))
	b = append(b, mp.NextHop...)
	b = append(b, 0) // reserved
	b = append(b, encodePrefixes(mp.NLRI)...)
	return b
}

func encodeMpUnreach(mp MpUnreachNlri) []byte {
	b := make([]byte, 3, 3+32)
	binary.BigEndian.PutUint16(b[0:2], mp.Family.AFI)
	b[2] = mp.Family.SAFI
	b = append(b, encodePrefixes(mp.NLRI)...)
	return b
}

// isAnnouncement reports whether u carries at least one announced prefix
// (IPv4 NLRI or MP_REACH_NLRI).
func (u *Update) isAnnouncement() bool {
	if len(u.NLRI) > 0 {
		return true
	}
	if u.Attrs != nil {
		if mp, ok := u.Attrs.Get(attrTypeMpReachNlri); ok {
			return len(mp.MpReach.NLRI) > 0
		}
	}
	return false
}

// validateAnnouncement checks the well-known-attribute completeness rule
// from https://tools.ietf.org/html/rfc4271#section-5: any announcement
// (IPv4 NLRI or MP_REACH_NLRI, per RFC 4760) needs ORIGIN and AS_PATH; the
// IPv4 unicast NLRI field additionally needs NEXT_HOP, since a non-IPv4
// family carries its next hop inside MP_REACH_NLRI itself rather than the
// NEXT_HOP attribute.
func (u *Update) validateAnnouncement() error {
	if !u.isAnnouncement() {
		return nil
	}
	if _, ok := u.Attrs.Get(attrTypeOrigin); !ok {
		return attrErr(NOTIF_SUBCODE_MISSING_WELL_KNOWN_ATTR)
	}
	if _, ok := u.Attrs.Get(attrTypeAsPath); !ok {
		return attrErr(NOTIF_SUBCODE_MISSING_WELL_KNOWN_ATTR)
	}
	if len(u.NLRI) > 0 {
		if _, ok := u.Attrs.Get(attrTypeNextHop); !ok {
			return attrErr(NOTIF_SUBCODE_MISSING_WELL_KNOWN_ATTR)
		}
	}
	return nil
}
