package bgpspeak

import (
	"net/netip"

	"github.com/dgryski/go-farm"
)

// OutboundChangeKind discriminates an OutboundChange.
type OutboundChangeKind int

const (
	ChangeAnnounce OutboundChangeKind = iota
	ChangeWithdraw
)

// OutboundChange is one route-change the planner folds into outbound
// Update messages, produced from a RouteAddEvent/RouteWithdrawEvent/local
// origination after egress processing (attribute cloning, non-transitive
// stripping, NEXT_HOP rewrite, AS_PATH prepend, and egress filtering have
// already happened by the time it reaches the planner).
type OutboundChange struct {
	Kind     OutboundChangeKind
	Family   Family
	Prefix   netip.Prefix
	Attrs    *AttributeSet
	UpdateID uint64
}

// attrIdentity returns a hash identifying attrs' content, used to group
// announcements that can share a single Update's attribute section. This
// mirrors osrg/gobgp's internal/pkg/table use of dgryski/go-farm to
// fingerprint a serialized attribute set rather than comparing structs
// field-by-field.
func attrIdentity(attrs *AttributeSet, fourOctet bool) uint64 {
	if attrs == nil {
		return 0
	}
	b, _ := encodeAttributes(attrs, fourOctet)
	return farm.Hash64(b)
}

type planGroup struct {
	family   Family
	attrs    *AttributeSet
	identity uint64
	nlri     []netip.Prefix
}

// Plan turns change into one or more wire-ready Update messages per 4.J:
// announcements keep their attributes in the same message as their
// prefixes; a prefix withdrawn and re-announced in the same batch is only
// announced (the announce supersedes the withdraw); MP_REACH_NLRI /
// MP_UNREACH_NLRI carry non-IPv4 families instead of the top-level NLRI
// fields; and no single message exceeds maxMessageLength, splitting into
// multiple Updates when a group's prefixes don't fit.
func Plan(changes []OutboundChange, fourOctet bool) ([][]byte, error) {
	announced := make(map[netip.Prefix]bool)
	for _, c := range changes {
		if c.Kind == ChangeAnnounce {
			announced[c.Prefix] = true
		}
	}

	var withdrawnV4 []netip.Prefix
	groups := make(map[uint64]*planGroup)
	var groupOrder []uint64

	for _, c := range changes {
		switch c.Kind {
		case ChangeWithdraw:
			if announced[c.Prefix] {
				continue
			}
			if c.Family == FamilyIPv4Unicast {
				withdrawnV4 = append(withdrawnV4, c.Prefix)
			} else {
				key := withdrawGroupKey(c.Family)
				g, ok := groups[key]
				if !ok {
					g = &planGroup{family: c.Family}
					groups[key] = g
					groupOrder = append(groupOrder, key)
				}
				g.nlri = append(g.nlri, c.Prefix)
			}
		case ChangeAnnounce:
			id := attrIdentity(c.Attrs, fourOctet)
			key := id ^ (c.UpdateID * 1099511628211) ^ uint64(c.Family.AFI)<<32 ^ uint64(c.Family.SAFI)
			g, ok := groups[key]
			if !ok {
				g = &planGroup{family: c.Family, attrs: c.Attrs, identity: id}
				groups[key] = g
				groupOrder = append(groupOrder, key)
			}
			g.nlri = append(g.nlri, c.Prefix)
		}
	}

	var messages [][]byte

	if len(withdrawnV4) > 0 {
		u := &Update{Withdrawn: withdrawnV4, Attrs: NewAttributeSet()}
		msgs, err := encodeUpdate(u, fourOctet)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msgs...)
	}

	for _, key := range groupOrder {
		g := groups[key]
		var u *Update
		if g.attrs != nil {
			u = announceUpdate(g, fourOctet)
		} else {
			u = withdrawUpdate(g)
		}
		msgs, err := encodeUpdate(u, fourOctet)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msgs...)
	}

	return messages, nil
}

// withdrawGroupKey groups non-IPv4 withdraws purely by family, since
// MP_UNREACH_NLRI carries no attributes to key on.
func withdrawGroupKey(f Family) uint64 {
	return uint64(f.AFI)<<32 | uint64(f.SAFI) | 1<<63
}

func announceUpdate(g *planGroup, fourOctet bool) *Update {
	attrs := g.attrs.Clone()
	if g.family == FamilyIPv4Unicast {
		return &Update{Attrs: attrs, NLRI: g.nlri}
	}
	nh, _ := attrs.Get(attrTypeNextHop)
	var nhBytes []byte
	if nh.NextHop.IsValid() {
		if nh.NextHop.Is4() {
			v4 := nh.NextHop.As4()
			nhBytes = v4[:]
		} else {
			v6 := nh.NextHop.As16()
			nhBytes = v6[:]
		}
	}
	attrs.drop(attrTypeNextHop)
	attrs.add(PathAttr{
		Type:  attrTypeMpReachNlri,
		Flags: optionalNonTransitive,
		MpReach: MpReachNlri{Family: g.family, NextHop: nhBytes, NLRI: g.nlri},
	})
	return &Update{Attrs: attrs}
}

func withdrawUpdate(g *planGroup) *Update {
	attrs := NewAttributeSet()
	attrs.add(PathAttr{
		Type:  attrTypeMpUnreachNlri,
		Flags: optionalNonTransitive,
		MpUnreach: MpUnreachNlri{Family: g.family, NLRI: g.nlri},
	})
	return &Update{Attrs: attrs}
}
