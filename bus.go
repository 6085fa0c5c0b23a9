package bgpspeak

import "net/netip"

// RouteEvent is the tagged union of events an EventBus delivers, per 4.G.
// Exactly one of the Add/Withdraw/Collision fields is set, selected by Kind.
type RouteEvent struct {
	Kind RouteEventKind

	Add      *RouteAddEvent
	Withdraw *RouteWithdrawEvent
	Collision *RouteCollisionEvent
}

// RouteEventKind discriminates RouteEvent's payload.
type RouteEventKind int

const (
	EventRouteAdd RouteEventKind = iota
	EventRouteWithdraw
	EventRouteCollision
)

// RouteAddEvent announces that prefixes are now reachable via attrs.
type RouteAddEvent struct {
	Family   Family
	Prefixes []netip.Prefix
	Attrs    *AttributeSet
	// Shared indicates attrs is reference-counted across multiple prefixes
	// from the same Update, per 4.B; subscribers must not mutate it.
	Shared bool
}

// RouteWithdrawEvent announces that prefixes are no longer reachable.
type RouteWithdrawEvent struct {
	Family   Family
	Prefixes []netip.Prefix
}

// RouteCollisionEvent announces that two sessions both claim peerBGPID and
// asks subscribers matching that peer to resolve locally.
type RouteCollisionEvent struct {
	PeerBGPID uint32
	SenderID  uint64
}

// Subscriber receives events published by other subscribers.
type Subscriber interface {
	OnRouteEvent(RouteEvent)
}

type subscription struct {
	id  uint64
	sub Subscriber
}

// EventBus is a process-local, synchronous pub/sub bus: publish delivers to
// every subscriber except the sender, in the sender's own call stack, and
// preserves per-subscriber publish order. It is not itself thread-safe;
// callers serialize access through the session locks described in 5.
type EventBus struct {
	nextID uint64
	subs   []subscription

	collisions collisionRegistry
}

// NewEventBus returns an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{collisions: newCollisionRegistry()}
}

// Subscribe assigns receiver a monotonically increasing subscriber id and
// returns it; the id is a RouteEvent sender handle for Publish.
func (b *EventBus) Subscribe(receiver Subscriber) uint64 {
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, sub: receiver})
	return id
}

// Unsubscribe removes receiver's subscription, identified by the id
// Subscribe returned.
func (b *EventBus) Unsubscribe(id uint64) {
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every subscriber except senderID, in
// subscription order.
func (b *EventBus) Publish(senderID uint64, event RouteEvent) {
	for _, s := range b.subs {
		if s.id == senderID {
			continue
		}
		s.sub.OnRouteEvent(event)
	}
}

// PublishAdd is a convenience wrapper constructing and publishing a
// RouteAddEvent.
func (b *EventBus) PublishAdd(senderID uint64, f Family, prefixes []netip.Prefix, attrs *AttributeSet) {
	b.Publish(senderID, RouteEvent{Kind: EventRouteAdd, Add: &RouteAddEvent{
		Family: f, Prefixes: prefixes, Attrs: attrs, Shared: true,
	}})
}

// PublishWithdraw is a convenience wrapper constructing and publishing a
// RouteWithdrawEvent.
func (b *EventBus) PublishWithdraw(senderID uint64, f Family, prefixes []netip.Prefix) {
	b.Publish(senderID, RouteEvent{Kind: EventRouteWithdraw, Withdraw: &RouteWithdrawEvent{
		Family: f, Prefixes: prefixes,
	}})
}

// ClaimPeer registers senderID as the session representing peerBGPID. If
// another session already claims peerBGPID, the two are adjudicated by
// comparing localBGPID against peerBGPID directly, per the worked example
// in 4.H's collision scenario ("local is numerically higher than peer -> the
// second session receives Cease"): the incumbent keeps the registration
// whenever localBGPID > peerBGPID, and any later challenger takes it over
// whenever localBGPID < peerBGPID. The loser must be torn down by its
// caller. Either way a RouteCollision event is published so other
// subscribers with a stake in this peer observe the resolution.
func (b *EventBus) ClaimPeer(senderID uint64, peerBGPID, localBGPID uint32) (won bool) {
	won = b.collisions.claim(senderID, peerBGPID, localBGPID)
	b.Publish(senderID, RouteEvent{Kind: EventRouteCollision, Collision: &RouteCollisionEvent{
		PeerBGPID: peerBGPID, SenderID: senderID,
	}})
	return won
}

// ReleasePeer removes senderID's claim on peerBGPID, e.g. once its session
// has torn down, so a future inbound connection is free to claim it anew.
func (b *EventBus) ReleasePeer(senderID uint64, peerBGPID uint32) {
	b.collisions.release(senderID, peerBGPID)
}

// collisionRegistry tracks, per peer_bgp_id, which subscriber currently
// holds the session and the local BGP ID it claimed with, so a second
// inbound connection for the same peer can be adjudicated deterministically
// without the bus needing to model connection direction (in/outbound) at
// all. Adjudication compares localBGPID against peerBGPID itself (not
// against the other claimant's localBGPID), per the worked example in
// 4.H's collision scenario: whichever side of that comparison favors the
// incumbent, the incumbent keeps the claim against every future challenger
// for that peer; otherwise every challenger takes it over in turn.
type collisionRegistry struct {
	holders map[uint32]collisionClaim
}

type collisionClaim struct {
	senderID   uint64
	localBGPID uint32
}

func newCollisionRegistry() collisionRegistry {
	return collisionRegistry{holders: make(map[uint32]collisionClaim)}
}

func (r *collisionRegistry) claim(senderID uint64, peerBGPID, localBGPID uint32) bool {
	existing, ok := r.holders[peerBGPID]
	if !ok {
		r.holders[peerBGPID] = collisionClaim{senderID: senderID, localBGPID: localBGPID}
		return true
	}
	if existing.senderID == senderID {
		return true
	}
	if existing.localBGPID > peerBGPID {
		// The incumbent's local identity already outranks the peer's; it
		// keeps the registration regardless of the challenger's identity.
		return false
	}
	r.holders[peerBGPID] = collisionClaim{senderID: senderID, localBGPID: localBGPID}
	return true
}

func (r *collisionRegistry) release(senderID uint64, peerBGPID uint32) {
	if c, ok := r.holders[peerBGPID]; ok && c.senderID == senderID {
		delete(r.holders, peerBGPID)
	}
}
