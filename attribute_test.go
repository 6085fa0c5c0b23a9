package bgpspeak

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asPathSet(asns ...uint32) *AttributeSet {
	s := NewAttributeSet()
	s.add(PathAttr{Type: attrTypeAsPath, Flags: wellKnownFlags,
		AsPath: []AsPathSegment{{Type: AsSequence, ASNs: asns}}})
	return s
}

func TestAttributeSet_Prepend(t *testing.T) {
	s := asPathSet(65002, 65003)
	s.prepend(65001)
	a, ok := s.Get(attrTypeAsPath)
	require.True(t, ok)
	assert.Equal(t, []uint32{65001, 65002, 65003}, a.AsPath[0].ASNs)
}

func TestAttributeSet_DropNonTransitive(t *testing.T) {
	s := NewAttributeSet()
	s.add(PathAttr{Type: attrTypeOrigin, Flags: wellKnownFlags, Origin: OriginIGP})
	s.add(PathAttr{Type: attrTypeMultiExitDisc, Flags: optionalNonTransitive, MultiExitDisc: 10})
	s.add(PathAttr{Type: attrTypeLocalPref, Flags: wellKnownFlags, LocalPref: 200})

	removed := s.dropNonTransitive()
	assert.True(t, removed)

	_, ok := s.Get(attrTypeMultiExitDisc)
	assert.False(t, ok)
	_, ok = s.Get(attrTypeOrigin)
	assert.True(t, ok)
	_, ok = s.Get(attrTypeLocalPref)
	assert.True(t, ok)

	assert.False(t, s.dropNonTransitive(), "a second pass with nothing left to strip reports no removal")
}

func TestAttributeSet_DowngradeAndRestoreAsPath(t *testing.T) {
	// A four-octet-ASN speaker sending to a two-octet-only peer downgrades
	// AS_PATH to AS_TRANS and attaches AS4_PATH with the real ASNs.
	s := asPathSet(4200000001, 65002)
	s.downgradeAsPath()

	asPath, ok := s.Get(attrTypeAsPath)
	require.True(t, ok)
	assert.Equal(t, []uint32{uint32(asTrans), 65002}, asPath.AsPath[0].ASNs)

	as4, ok := s.Get(attrTypeAs4Path)
	require.True(t, ok)
	assert.Equal(t, []uint32{4200000001, 65002}, as4.AsPath[0].ASNs)

	// The receiving two-octet session reconstructs the real path.
	s.restoreAsPath()
	_, ok = s.Get(attrTypeAs4Path)
	assert.False(t, ok, "AS4_PATH is consumed once merged")

	restored, ok := s.Get(attrTypeAsPath)
	require.True(t, ok)
	assert.Equal(t, []uint32{4200000001, 65002}, restored.AsPath[0].ASNs)
}

func TestAttributeSet_DowngradeAsPath_NoOctetOverflow(t *testing.T) {
	s := asPathSet(65001, 65002)
	s.downgradeAsPath()

	_, ok := s.Get(attrTypeAs4Path)
	assert.False(t, ok, "no AS4_PATH needed when every ASN already fits in two octets")
}

func TestAttributeSet_RestoreAsPath_AmbiguousLeavesAsPathAlone(t *testing.T) {
	s := asPathSet(uint32(asTrans))
	s.add(PathAttr{Type: attrTypeAs4Path, Flags: optionalTransitiveFlags,
		AsPath: []AsPathSegment{{Type: AsSequence, ASNs: []uint32{4200000001, 4200000002}}}})

	s.restoreAsPath()

	restored, ok := s.Get(attrTypeAsPath)
	require.True(t, ok)
	assert.Equal(t, []uint32{uint32(asTrans)}, restored.AsPath[0].ASNs)
}

func TestAttributeSet_UpdateReplacesInPlace(t *testing.T) {
	s := NewAttributeSet()
	s.add(PathAttr{Type: attrTypeLocalPref, LocalPref: 100})
	s.update(PathAttr{Type: attrTypeLocalPref, LocalPref: 200})
	assert.Equal(t, 1, s.Len())
	a, _ := s.Get(attrTypeLocalPref)
	assert.Equal(t, uint32(200), a.LocalPref)
}

func TestAttributeSet_Clone_IsIndependent(t *testing.T) {
	s := asPathSet(65001)
	clone := s.Clone()
	clone.prepend(65000)

	orig, _ := s.Get(attrTypeAsPath)
	assert.Equal(t, []uint32{65001}, orig.AsPath[0].ASNs)

	cloned, _ := clone.Get(attrTypeAsPath)
	assert.Equal(t, []uint32{65000, 65001}, cloned.AsPath[0].ASNs)
}
