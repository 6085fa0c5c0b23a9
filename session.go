package bgpspeak

import (
	"net/netip"
	"sync"
	"time"
)

// SessionState is the Session FSM's current state, per 4.H.
type SessionState int

const (
	Idle SessionState = iota
	OpenSent
	OpenConfirm
	Established
	Broken
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case OpenSent:
		return "OPEN_SENT"
	case OpenConfirm:
		return "OPEN_CONFIRM"
	case Established:
		return "ESTABLISHED"
	case Broken:
		return "BROKEN"
	default:
		return "UNKNOWN"
	}
}

// RunResult is the outcome of Session.Run, per 4.H.
type RunResult int

const (
	Fatal               RunResult = -1
	LocalProtocolError  RunResult = 0
	OK                  RunResult = 1
	RemoteProtocolError RunResult = 2
	Incomplete          RunResult = 3
)

func (r RunResult) String() string {
	switch r {
	case Fatal:
		return "FATAL"
	case LocalProtocolError:
		return "LOCAL_PROTOCOL_ERROR"
	case OK:
		return "OK"
	case RemoteProtocolError:
		return "REMOTE_PROTOCOL_ERROR"
	case Incomplete:
		return "INCOMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Session is one BGP-4 FSM instance, bound to exactly one peer. It is
// transport-agnostic: a host feeds received bytes to Run and drains
// produced bytes with DrainOutput, performing the actual socket I/O itself.
// A Session is not safe for concurrent Run/Tick/Start/Stop/Reset* calls;
// see 5. CONCURRENCY & RESOURCE MODEL.
type Session struct {
	outMu sync.Mutex
	out   []byte

	state SessionState

	localASN   uint32
	peerASN    uint32
	localBGPID uint32
	peerBGPID  uint32

	localFourOctet bool
	peerFourOctet  bool
	use4b          bool

	configuredHold time.Duration
	negotiatedHold time.Duration
	lastRecvTS     time.Time
	lastSentTS     time.Time

	sink *StreamSink

	rib     *RIB
	bus     *EventBus
	busID   uint64
	claimed bool

	logger Logger
	clock  Clock

	ingress Filter
	egress  Filter
	nexthop netip.Addr

	updateIDSeq uint64
	pendingOut  []OutboundChange
}

// SessionOption configures a Session constructed by NewSession.
type SessionOption func(*Session)

func WithHoldTime(d time.Duration) SessionOption {
	return func(s *Session) { s.configuredHold = d }
}

func WithLogger(l Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

func WithClock(c Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

func WithFourOctetASN(enabled bool) SessionOption {
	return func(s *Session) { s.localFourOctet = enabled }
}

func WithIngressFilter(f Filter) SessionOption {
	return func(s *Session) { s.ingress = f }
}

func WithEgressFilter(f Filter) SessionOption {
	return func(s *Session) { s.egress = f }
}

func WithNextHop(addr netip.Addr) SessionOption {
	return func(s *Session) { s.nexthop = addr }
}

func WithSinkCapacity(n int) SessionOption {
	return func(s *Session) { s.sink = NewStreamSink(n) }
}

// NewSession returns an IDLE Session for the given local/peer ASNs and
// local BGP identifier, sharing rib and bus with any other sessions in the
// process.
func NewSession(localASN, peerASN, localBGPID uint32, rib *RIB, bus *EventBus, opts ...SessionOption) *Session {
	s := &Session{
		state:          Idle,
		localASN:       localASN,
		peerASN:        peerASN,
		localBGPID:     localBGPID,
		localFourOctet: true,
		configuredHold: 90 * time.Second,
		rib:            rib,
		bus:            bus,
		logger:         nopLogger{},
		clock:          SystemClock,
		ingress:        AllowAll,
		egress:         AllowAll,
		sink:           NewStreamSink(defaultSinkCapacity),
	}
	for _, o := range opts {
		o(s)
	}
	s.busID = bus.Subscribe(s)
	return s
}

// State returns the session's current FSM state.
func (s *Session) State() SessionState { return s.state }

// PeerASN returns the configured peer ASN.
func (s *Session) PeerASN() uint32 { return s.peerASN }

// PeerBGPID returns the peer's advertised BGP identifier, valid once past
// OPEN_SENT.
func (s *Session) PeerBGPID() uint32 { return s.peerBGPID }

// NegotiatedHold returns the negotiated hold interval, valid once
// established.
func (s *Session) NegotiatedHold() time.Duration { return s.negotiatedHold }

// RIB returns the shared RIB this session publishes into.
func (s *Session) RIB() *RIB { return s.rib }

// isEBGP reports whether this session is external (peer ASN differs from
// ours).
func (s *Session) isEBGP() bool { return s.peerASN != s.localASN }

func (s *Session) appendOut(b []byte) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.out = append(s.out, b...)
}

// DrainOutput returns and clears bytes the engine has produced since the
// last call, for the host to write to the transport.
func (s *Session) DrainOutput() []byte {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	out := s.out
	s.out = nil
	return out
}

// transition moves the FSM to to, logging the change the way the teacher's
// peer.go logs every FSM transition.
func (s *Session) transition(to SessionState) {
	from := s.state
	s.state = to
	if from == to {
		return
	}
	s.logger.Infof("[peer_asn=%d] FSM transition %s => %s", s.peerASN, from, to)
}

// Start transitions IDLE -> OPEN_SENT, emitting an Open message.
func (s *Session) Start() {
	if s.state != Idle {
		return
	}
	s.sendOpen()
	s.transition(OpenSent)
}

func (s *Session) sendOpen() {
	var caps []Capability
	caps = append(caps, NewMPExtensionsCapability(FamilyIPv4Unicast))
	caps = append(caps, NewMPExtensionsCapability(FamilyIPv6Unicast))
	o := newOpenMessage(s.localASN, s.configuredHold, s.localBGPID, caps)
	if !s.localFourOctet {
		o.caps = o.caps[1:] // drop the four-octet-AS capability newOpenMessage always prepends
	}
	s.appendOut(o.encode())
}

func (s *Session) sendKeepalive() {
	s.appendOut(keepAliveMessage{}.encode())
	s.lastSentTS = s.clock.Now()
}

func (s *Session) sendNotificationAndGoIdle(n *Notification) {
	s.appendOut(n.encode())
	s.logger.Warnf("[peer_asn=%d] sending notification code=%d subcode=%d, FSM-%s going idle",
		s.peerASN, n.Code, n.Subcode, s.state)
	if s.state != Broken {
		s.teardown()
		s.transition(Idle)
	}
}

// teardown releases RIB entries and bus claims owned by this session,
// without changing s.state, so both Stop and notification-triggered resets
// share the same cleanup.
func (s *Session) teardown() {
	if s.peerBGPID != 0 {
		unreachable, replacements := s.rib.Discard(s.peerBGPID)
		if len(unreachable) > 0 {
			s.logger.Infof("[peer_asn=%d] teardown withdrawing %d prefixes from RIB", s.peerASN, len(unreachable))
		}
		for _, p := range unreachable {
			s.bus.PublishWithdraw(s.busID, FamilyOf(p), []netip.Prefix{p})
		}
		for _, r := range replacements {
			s.bus.PublishAdd(s.busID, FamilyOf(r.Prefix), []netip.Prefix{r.Prefix}, r.Attrs)
		}
	}
	if s.claimed {
		s.bus.ReleasePeer(s.busID, s.peerBGPID)
		s.claimed = false
	}
	s.sink.Reset()
}

// Stop transitions any state to IDLE, flushing buffers; idempotent.
func (s *Session) Stop() {
	if s.state == Idle {
		return
	}
	s.teardown()
	s.transition(Idle)
}

// ResetSoft is equivalent to Stop followed by Start.
func (s *Session) ResetSoft() {
	s.Stop()
	s.Start()
}

// ResetHard clears BROKEN (or any other state) back to IDLE; always safe.
func (s *Session) ResetHard() {
	s.teardown()
	s.transition(Idle)
}

func fsmErrorSubcode(state SessionState) uint8 {
	switch state {
	case OpenSent:
		return NOTIF_SUBCODE_RX_UNEXPECTED_MESSAGE_OPENSENT
	case OpenConfirm:
		return NOTIF_SUBCODE_RX_UNEXPECTED_MESSAGE_OPENCONFIRM
	default:
		return NOTIF_SUBCODE_RX_UNEXPECTED_MESSAGE_ESTABLISHED
	}
}

// Run feeds b to the session and processes every complete message it now
// contains, returning the RunResult of the most significant event observed
// (notification sent or received outranks plain progress, which outranks
// needing more bytes). Tick is invoked implicitly at the end, per 4.H.
func (s *Session) Run(b []byte) (RunResult, error) {
	if s.state == Broken {
		return Fatal, errBroken
	}
	if !s.sink.Feed(b) {
		n := newNotification(NOTIF_CODE_MESSAGE_HEADER_ERR, NOTIF_SUBCODE_BAD_MESSAGE_LEN, nil)
		s.sendNotificationAndGoIdle(n)
		return LocalProtocolError, newNotificationError(n, true)
	}

	result := Incomplete
	var resultErr error
	progressed := false

	for {
		msg, pr, err := s.sink.Pour()
		switch pr {
		case NeedMore:
			goto tick
		case OutOfSync:
			if err == nil {
				err = newNotificationError(newNotification(
					NOTIF_CODE_MESSAGE_HEADER_ERR, NOTIF_SUBCODE_CONN_NOT_SYNCHRONIZED, nil), true)
			}
			if ne, ok := err.(*notificationError); ok {
				s.sendNotificationAndGoIdle(ne.notification)
			}
			return LocalProtocolError, err
		case Poured:
			progressed = true
			r, rerr := s.handleMessage(msg)
			if r != OK {
				result = r
				resultErr = rerr
			} else if result == Incomplete {
				result = OK
			}
			if s.state == Broken {
				return Fatal, rerr
			}
		}
	}

tick:
	tr, terr := s.tick(s.clock.Now())
	if tr != OK {
		return tr, terr
	}
	if progressed && result == Incomplete {
		result = OK
	}
	return result, resultErr
}

var errBroken = newNotificationError(newNotification(NOTIF_CODE_FSM_ERR, 0, nil), true)

func (s *Session) handleMessage(msg message) (RunResult, error) {
	if n, ok := msg.(*Notification); ok {
		s.logger.Warnf("[peer_asn=%d] received %s", s.peerASN, n.Error())
		s.teardown()
		s.transition(Idle)
		return RemoteProtocolError, n
	}

	switch m := msg.(type) {
	case *openMessage:
		return s.handleOpen(m)
	case keepAliveMessage:
		return s.handleKeepalive()
	case updateMessage:
		return s.handleUpdate(m)
	default:
		n := newNotification(NOTIF_CODE_FSM_ERR, fsmErrorSubcode(s.state), nil)
		s.sendNotificationAndGoIdle(n)
		return LocalProtocolError, newNotificationError(n, true)
	}
}

func (s *Session) handleOpen(o *openMessage) (RunResult, error) {
	if s.state != OpenSent {
		n := newNotification(NOTIF_CODE_FSM_ERR, fsmErrorSubcode(s.state), nil)
		s.sendNotificationAndGoIdle(n)
		return LocalProtocolError, newNotificationError(n, true)
	}

	peerASN := uint32(o.asn)
	if fourASN, ok := o.fourOctetASN(s.peerASN); ok {
		peerASN = fourASN
	}
	if err := o.validate(s.localBGPID, s.localASN, s.peerASN); err != nil {
		ne := err.(*notificationError)
		s.sendNotificationAndGoIdle(ne.notification)
		return LocalProtocolError, err
	}

	s.peerASN = peerASN
	s.peerBGPID = o.bgpID
	s.peerFourOctet = o.use4b()
	s.use4b = s.localFourOctet && s.peerFourOctet

	s.negotiatedHold = negotiateHold(s.configuredHold, time.Duration(o.holdTime)*time.Second)

	won := s.bus.ClaimPeer(s.busID, s.peerBGPID, s.localBGPID)
	s.claimed = won
	if !won {
		s.logger.Warnf("[peer_asn=%d] lost BGP identifier collision for peer_bgp_id=%d", s.peerASN, s.peerBGPID)
		n := newNotification(NOTIF_CODE_CEASE, 0, nil)
		s.sendNotificationAndGoIdle(n)
		return LocalProtocolError, newNotificationError(n, true)
	}

	s.appendOut(keepAliveMessage{}.encode())
	s.lastSentTS = s.clock.Now()
	s.lastRecvTS = s.clock.Now()
	s.transition(OpenConfirm)
	return OK, nil
}

// negotiateHold returns min(local, peer), where a zero value on either side
// means "no timers" and wins (per 4.H: 0 means no timers).
func negotiateHold(local, peer time.Duration) time.Duration {
	if local == 0 || peer == 0 {
		return 0
	}
	if local < peer {
		return local
	}
	return peer
}

func (s *Session) handleKeepalive() (RunResult, error) {
	switch s.state {
	case OpenConfirm:
		s.transition(Established)
		s.lastRecvTS = s.clock.Now()
		return OK, nil
	case Established:
		s.lastRecvTS = s.clock.Now()
		return OK, nil
	default:
		n := newNotification(NOTIF_CODE_FSM_ERR, fsmErrorSubcode(s.state), nil)
		s.sendNotificationAndGoIdle(n)
		return LocalProtocolError, newNotificationError(n, true)
	}
}

func (s *Session) handleUpdate(raw updateMessage) (RunResult, error) {
	if s.state != Established {
		n := newNotification(NOTIF_CODE_FSM_ERR, fsmErrorSubcode(s.state), nil)
		s.sendNotificationAndGoIdle(n)
		return LocalProtocolError, newNotificationError(n, true)
	}

	u, err := decodeUpdate(raw, s.use4b)
	if err != nil {
		if ne, ok := err.(*notificationError); ok {
			s.sendNotificationAndGoIdle(ne.notification)
			return LocalProtocolError, err
		}
		return LocalProtocolError, err
	}

	if err := u.validateAnnouncement(); err != nil {
		ne := err.(*notificationError)
		s.sendNotificationAndGoIdle(ne.notification)
		return LocalProtocolError, err
	}

	if !s.use4b {
		u.Attrs.restoreAsPath()
	}

	s.applyInbound(FamilyIPv4Unicast, u.Withdrawn, u.NLRI, u.Attrs)
	if mpu, ok := u.Attrs.Get(attrTypeMpUnreachNlri); ok {
		s.applyInbound(mpu.MpUnreach.Family, mpu.MpUnreach.NLRI, nil, u.Attrs)
	}
	if mpr, ok := u.Attrs.Get(attrTypeMpReachNlri); ok {
		s.applyInbound(mpr.MpReach.Family, nil, mpr.MpReach.NLRI, u.Attrs)
	}

	s.lastRecvTS = s.clock.Now()
	return OK, nil
}

// applyInbound runs ingress filtering for one family's withdrawn/NLRI
// prefixes from a single Update, folding the results into the RIB and
// publishing the resulting RouteAdd/RouteWithdraw events. handleUpdate calls
// this once for the top-level IPv4 withdrawn/NLRI fields and again for each
// of MP_UNREACH_NLRI/MP_REACH_NLRI present in the attribute set, so a
// non-IPv4 family flows through the RIB exactly like IPv4 does.
func (s *Session) applyInbound(family Family, withdrawn, nlri []netip.Prefix, attrs *AttributeSet) {
	var withdraws []netip.Prefix
	for _, p := range withdrawn {
		if !s.ingress.Allow(p) {
			continue
		}
		withdraws = append(withdraws, p)
	}
	var announced []netip.Prefix
	for _, p := range nlri {
		if !s.ingress.Allow(p) {
			withdraws = append(withdraws, p)
			continue
		}
		announced = append(announced, p)
	}

	for _, p := range withdraws {
		reachable, replacement := s.rib.Withdraw(s.peerBGPID, p)
		if !reachable {
			s.bus.PublishWithdraw(s.busID, family, []netip.Prefix{p})
		} else if replacement != nil {
			s.bus.PublishAdd(s.busID, family, []netip.Prefix{replacement.Prefix}, replacement.Attrs)
		}
	}

	if len(announced) == 0 {
		return
	}
	s.updateIDSeq++
	updateID := s.updateIDSeq
	src := SrcEBGP
	var ibgpASN uint32
	if !s.isEBGP() {
		src = SrcIBGP
		ibgpASN = s.peerASN
	}
	for _, p := range announced {
		changed := s.rib.Insert(s.peerBGPID, p, attrs, 0, updateID, src, ibgpASN)
		if changed != nil {
			s.bus.PublishAdd(s.busID, family, []netip.Prefix{changed.Prefix}, changed.Attrs)
		}
	}
}

// OnRouteEvent implements Subscriber; it performs egress processing per
// 4.H, queuing the resulting change for the next Tick/Run to flush as
// Update bytes.
func (s *Session) OnRouteEvent(ev RouteEvent) {
	if s.state != Established {
		return
	}
	switch ev.Kind {
	case EventRouteAdd:
		s.queueAnnounce(ev.Add)
	case EventRouteWithdraw:
		s.queueWithdraw(ev.Withdraw)
	case EventRouteCollision:
		if ev.Collision.PeerBGPID == s.peerBGPID && ev.Collision.SenderID != s.busID {
			// The registry has already adjudicated the challenge; this session
			// lost if it no longer holds the claim.
			if holder, ok := s.bus.collisions.holders[s.peerBGPID]; ok && holder.senderID != s.busID {
				n := newNotification(NOTIF_CODE_CEASE, 0, nil)
				s.sendNotificationAndGoIdle(n)
			}
		}
	}
}

func (s *Session) queueAnnounce(ev *RouteAddEvent) {
	attrs := ev.Attrs.Clone()
	if s.isEBGP() {
		attrs.dropNonTransitive()
	}
	if s.nexthop.IsValid() {
		attrs.update(PathAttr{Type: attrTypeNextHop, Flags: wellKnownFlags, NextHop: s.nexthop})
	}
	if s.isEBGP() {
		attrs.prepend(s.localASN)
	}
	if !s.use4b {
		attrs.downgradeAsPath()
	}
	for _, p := range ev.Prefixes {
		if !s.egress.Allow(p) {
			continue
		}
		s.updateIDSeq++
		s.pendingOut = append(s.pendingOut, OutboundChange{
			Kind: ChangeAnnounce, Family: ev.Family, Prefix: p, Attrs: attrs, UpdateID: s.updateIDSeq,
		})
	}
}

func (s *Session) queueWithdraw(ev *RouteWithdrawEvent) {
	for _, p := range ev.Prefixes {
		s.pendingOut = append(s.pendingOut, OutboundChange{
			Kind: ChangeWithdraw, Family: ev.Family, Prefix: p,
		})
	}
}

func (s *Session) flushPending() {
	if len(s.pendingOut) == 0 {
		return
	}
	msgs, err := Plan(s.pendingOut, s.use4b)
	s.pendingOut = nil
	if err != nil {
		s.logger.Errorf("planning outbound update: %v", err)
		return
	}
	for _, m := range msgs {
		s.appendOut(m)
	}
	s.lastSentTS = s.clock.Now()
}

// Tick evaluates the hold and keepalive timers, per 4.H. It is invoked
// implicitly at the end of every Run call; a host with no traffic to feed
// should still call it periodically so hold-timer expiry is detected.
func (s *Session) Tick(now time.Time) (RunResult, error) {
	return s.tick(now)
}

func (s *Session) tick(now time.Time) (RunResult, error) {
	if s.state != Established {
		return OK, nil
	}
	s.flushPending()
	if s.negotiatedHold > 0 && now.Sub(s.lastRecvTS) > s.negotiatedHold {
		s.logger.Warnf("[peer_asn=%d] hold timer expired: %s since last message, negotiated %s",
			s.peerASN, now.Sub(s.lastRecvTS), s.negotiatedHold)
		n := newNotification(NOTIF_CODE_HOLD_TIMER_EXPIRED, 0, nil)
		s.sendNotificationAndGoIdle(n)
		return LocalProtocolError, newNotificationError(n, true)
	}
	if s.negotiatedHold > 0 && now.Sub(s.lastSentTS) >= s.negotiatedHold/3 {
		s.sendKeepalive()
	}
	return OK, nil
}
