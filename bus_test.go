package bgpspeak

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	events []RouteEvent
}

func (r *recordingSubscriber) OnRouteEvent(e RouteEvent) {
	r.events = append(r.events, e)
}

func TestEventBus_PublishExcludesSender(t *testing.T) {
	b := NewEventBus()
	a := &recordingSubscriber{}
	c := &recordingSubscriber{}
	idA := b.Subscribe(a)
	b.Subscribe(c)

	b.PublishWithdraw(idA, FamilyIPv4Unicast, []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")})

	assert.Empty(t, a.events, "sender must not receive its own publish")
	require.Len(t, c.events, 1)
	assert.Equal(t, EventRouteWithdraw, c.events[0].Kind)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	b := NewEventBus()
	a := &recordingSubscriber{}
	id := b.Subscribe(a)
	b.Unsubscribe(id)

	other := &recordingSubscriber{}
	otherID := b.Subscribe(other)
	b.PublishWithdraw(otherID, FamilyIPv4Unicast, nil)

	assert.Empty(t, a.events)
}

func TestCollisionRegistry_IncumbentLocalHigherThanPeer_AlwaysKeepsClaim(t *testing.T) {
	r := newCollisionRegistry()
	peerBGPID := uint32(50)
	require.True(t, r.claim(1, peerBGPID, 200), "first claim for a peer always succeeds")
	assert.False(t, r.claim(2, peerBGPID, 5), "incumbent local_bgp_id higher than peer_bgp_id keeps the claim")
	assert.False(t, r.claim(3, peerBGPID, 999), "a challenger's own local_bgp_id is irrelevant once the incumbent outranks peer_bgp_id")
}

func TestCollisionRegistry_IncumbentLocalLowerThanPeer_ChallengerTakesOver(t *testing.T) {
	r := newCollisionRegistry()
	peerBGPID := uint32(500)
	require.True(t, r.claim(1, peerBGPID, 10), "first claim for a peer always succeeds")
	assert.True(t, r.claim(2, peerBGPID, 1), "incumbent local_bgp_id lower than peer_bgp_id lets a challenger take over")
	assert.True(t, r.claim(3, peerBGPID, 2), "the new incumbent's local_bgp_id is still lower than peer_bgp_id")
}

func TestEventBus_ClaimPeerPublishesCollision(t *testing.T) {
	b := NewEventBus()
	watcher := &recordingSubscriber{}
	watcherID := b.Subscribe(watcher)

	won := b.ClaimPeer(watcherID+1, 0x01020304, 10)
	require.True(t, won)
	require.Len(t, watcher.events, 1)
	assert.Equal(t, EventRouteCollision, watcher.events[0].Kind)
}
