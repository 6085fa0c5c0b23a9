package bgpspeak

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_AnnounceSupersedesWithdrawForSamePrefix(t *testing.T) {
	p := netip.MustParsePrefix("198.51.100.0/24")
	attrs := NewAttributeSet()
	attrs.add(PathAttr{Type: attrTypeOrigin, Flags: wellKnownFlags, Origin: OriginIGP})
	attrs.add(PathAttr{Type: attrTypeAsPath, Flags: wellKnownFlags})
	attrs.add(PathAttr{Type: attrTypeNextHop, Flags: wellKnownFlags, NextHop: netip.MustParseAddr("192.0.2.1")})

	changes := []OutboundChange{
		{Kind: ChangeWithdraw, Family: FamilyIPv4Unicast, Prefix: p},
		{Kind: ChangeAnnounce, Family: FamilyIPv4Unicast, Prefix: p, Attrs: attrs, UpdateID: 1},
	}
	msgs, err := Plan(changes, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	u, err := decodeUpdate(msgs[0][headerLength:], false)
	require.NoError(t, err)
	assert.Empty(t, u.Withdrawn)
	require.Len(t, u.NLRI, 1)
	assert.Equal(t, p, u.NLRI[0])
}

func TestPlan_NonIPv4FamilyUsesMPReach(t *testing.T) {
	p := netip.MustParsePrefix("2001:db8::/32")
	attrs := NewAttributeSet()
	attrs.add(PathAttr{Type: attrTypeOrigin, Flags: wellKnownFlags, Origin: OriginIGP})
	attrs.add(PathAttr{Type: attrTypeAsPath, Flags: wellKnownFlags})

	changes := []OutboundChange{
		{Kind: ChangeAnnounce, Family: FamilyIPv6Unicast, Prefix: p, Attrs: attrs, UpdateID: 1},
	}
	msgs, err := Plan(changes, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	u, err := decodeUpdate(msgs[0][headerLength:], false)
	require.NoError(t, err)
	assert.Empty(t, u.NLRI, "IPv6 NLRI must not appear in the top-level field")

	mp, ok := u.Attrs.Get(attrTypeMpReachNlri)
	require.True(t, ok)
	require.Len(t, mp.MpReach.NLRI, 1)
	assert.Equal(t, p, mp.MpReach.NLRI[0])
}

func TestPlan_PlainWithdraw(t *testing.T) {
	p := netip.MustParsePrefix("198.51.100.0/24")
	changes := []OutboundChange{
		{Kind: ChangeWithdraw, Family: FamilyIPv4Unicast, Prefix: p},
	}
	msgs, err := Plan(changes, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	u, err := decodeUpdate(msgs[0][headerLength:], false)
	require.NoError(t, err)
	require.Len(t, u.Withdrawn, 1)
	assert.Equal(t, p, u.Withdrawn[0])
}
