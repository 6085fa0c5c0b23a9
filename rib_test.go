package bgpspeak

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attrsWithAsPathLen(n int) *AttributeSet {
	s := NewAttributeSet()
	asns := make([]uint32, n)
	for i := range asns {
		asns[i] = uint32(65000 + i)
	}
	s.add(PathAttr{Type: attrTypeAsPath, Flags: wellKnownFlags,
		AsPath: []AsPathSegment{{Type: AsSequence, ASNs: asns}}})
	s.add(PathAttr{Type: attrTypeOrigin, Flags: wellKnownFlags, Origin: OriginIGP})
	return s
}

func TestRIB_BestPathByASPathLength(t *testing.T) {
	r := NewRIB()
	p := netip.MustParsePrefix("192.0.2.0/24")

	r.Insert(1, p, attrsWithAsPathLen(3), 0, 1, SrcEBGP, 0)
	changed := r.Insert(2, p, attrsWithAsPathLen(2), 0, 2, SrcEBGP, 0)

	require.NotNil(t, changed, "shorter AS_PATH should become the new best")
	assert.Equal(t, uint32(2), changed.SrcRouterID)

	best, ok := r.Lookup(netip.MustParseAddr("192.0.2.1"))
	require.True(t, ok)
	assert.Equal(t, uint32(2), best.SrcRouterID)
}

func TestRIB_InsertReturnsNilWhenBestUnchanged(t *testing.T) {
	r := NewRIB()
	p := netip.MustParsePrefix("192.0.2.0/24")

	r.Insert(1, p, attrsWithAsPathLen(2), 0, 1, SrcEBGP, 0)
	changed := r.Insert(2, p, attrsWithAsPathLen(3), 0, 2, SrcEBGP, 0)

	assert.Nil(t, changed, "a worse candidate must not be reported as a change")
}

func TestRIB_WithdrawReplacement(t *testing.T) {
	r := NewRIB()
	p := netip.MustParsePrefix("192.0.2.0/24")
	r.Insert(1, p, attrsWithAsPathLen(2), 0, 1, SrcEBGP, 0)
	r.Insert(2, p, attrsWithAsPathLen(3), 0, 2, SrcEBGP, 0)

	reachable, replacement := r.Withdraw(1, p)
	require.True(t, reachable)
	require.NotNil(t, replacement)
	assert.Equal(t, uint32(2), replacement.SrcRouterID)

	reachable, replacement = r.Withdraw(2, p)
	assert.False(t, reachable)
	assert.Nil(t, replacement)
}

func TestRIB_DiscardCompleteness(t *testing.T) {
	r := NewRIB()
	peerX, peerY := uint32(1), uint32(2)

	var withBackup []netip.Prefix
	for i := 0; i < 10; i++ {
		p := netip.MustParsePrefix(prefixN(i))
		r.Insert(peerX, p, attrsWithAsPathLen(3), 0, uint64(i), SrcEBGP, 0)
		if i < 4 {
			r.Insert(peerY, p, attrsWithAsPathLen(2), 0, uint64(100+i), SrcEBGP, 0)
			withBackup = append(withBackup, p)
		}
	}
	require.Equal(t, 14, r.Size())

	unreachable, replacements := r.Discard(peerX)
	assert.Len(t, unreachable, 6)
	assert.Len(t, replacements, 4)
	assert.Equal(t, 4, r.Size())
	for _, rep := range replacements {
		assert.Equal(t, peerY, rep.SrcRouterID)
	}
}

func prefixN(i int) string {
	return netip.PrefixFrom(netip.AddrFrom4([4]byte{192, 0, byte(i), 0}), 24).String()
}

func TestRIB_WeightBeatsLocalPref(t *testing.T) {
	r := NewRIB()
	p := netip.MustParsePrefix("192.0.2.0/24")

	low := NewAttributeSet()
	low.add(PathAttr{Type: attrTypeLocalPref, Flags: wellKnownFlags, LocalPref: 500})
	high := NewAttributeSet()
	high.add(PathAttr{Type: attrTypeLocalPref, Flags: wellKnownFlags, LocalPref: 100})

	r.Insert(1, p, low, 0, 1, SrcEBGP, 0)
	changed := r.Insert(2, p, high, 10, 2, SrcEBGP, 0)

	require.NotNil(t, changed)
	assert.Equal(t, uint32(2), changed.SrcRouterID)
}

func TestRIB_LocalBeatsEBGPBeatsIBGP(t *testing.T) {
	r := NewRIB()
	p := netip.MustParsePrefix("192.0.2.0/24")

	r.Insert(1, p, NewAttributeSet(), 0, 1, SrcIBGP, 65000)
	changed := r.Insert(3, p, NewAttributeSet(), 0, 3, SrcEBGP, 0)
	require.NotNil(t, changed)
	assert.Equal(t, SrcEBGP, changed.Src)

	changed = r.Insert(2, p, NewAttributeSet(), 0, 2, SrcLocal, 0)

	require.NotNil(t, changed)
	assert.Equal(t, SrcLocal, changed.Src)
}
