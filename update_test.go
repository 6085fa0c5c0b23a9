package bgpspeak

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUpdate() *Update {
	attrs := NewAttributeSet()
	attrs.add(PathAttr{Type: attrTypeOrigin, Flags: wellKnownFlags, Origin: OriginIGP})
	attrs.add(PathAttr{Type: attrTypeAsPath, Flags: wellKnownFlags,
		AsPath: []AsPathSegment{{Type: AsSequence, ASNs: []uint32{65001, 65002}}}})
	attrs.add(PathAttr{Type: attrTypeNextHop, Flags: wellKnownFlags,
		NextHop: netip.MustParseAddr("192.0.2.1")})
	return &Update{
		NLRI:  []netip.Prefix{netip.MustParsePrefix("198.51.100.0/24")},
		Attrs: attrs,
	}
}

func TestUpdate_EncodeDecodeRoundTrip(t *testing.T) {
	u := sampleUpdate()
	msgs, err := encodeUpdate(u, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	decoded, err := decodeUpdate(msgs[0][headerLength:], false)
	require.NoError(t, err)
	require.Len(t, decoded.NLRI, 1)
	assert.Equal(t, "198.51.100.0/24", decoded.NLRI[0].String())

	origin, ok := decoded.Attrs.Get(attrTypeOrigin)
	require.True(t, ok)
	assert.Equal(t, OriginIGP, origin.Origin)

	asPath, ok := decoded.Attrs.Get(attrTypeAsPath)
	require.True(t, ok)
	assert.Equal(t, []uint32{65001, 65002}, asPath.AsPath[0].ASNs)
}

func TestUpdate_ValidateAnnouncement_MissingWellKnown(t *testing.T) {
	u := &Update{
		NLRI:  []netip.Prefix{netip.MustParsePrefix("198.51.100.0/24")},
		Attrs: NewAttributeSet(),
	}
	err := u.validateAnnouncement()
	require.Error(t, err)
}

func TestUpdate_ValidateAnnouncement_PureWithdrawNeedsNoAttrs(t *testing.T) {
	u := &Update{
		Withdrawn: []netip.Prefix{netip.MustParsePrefix("198.51.100.0/24")},
		Attrs:     NewAttributeSet(),
	}
	assert.NoError(t, u.validateAnnouncement())
}

func TestDecodePrefixes_RejectsOverlongMask(t *testing.T) {
	_, err := decodePrefixes([]byte{33, 1, 2, 3, 4, 5}, FamilyIPv4Unicast)
	assert.Error(t, err)
}

func TestChunkPrefixes(t *testing.T) {
	prefixes := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("10.0.0.0/24"),
		netip.MustParsePrefix("10.0.1.0/24"),
	}
	chunks := chunkPrefixes(prefixes, 4)
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	assert.Equal(t, len(prefixes), total)
	assert.Greater(t, len(chunks), 1)
}
