package bgpspeak

import "net/netip"

// Filter decides whether a prefix may cross a session boundary. Sessions
// consult an ingress Filter before accepting an announced or withdrawn
// prefix and an egress Filter before advertising one; this package assumes
// a host-supplied Filter exists and ships AllowAll/DenyAll as the trivial
// cases a host composes more interesting policy from.
type Filter interface {
	Allow(prefix netip.Prefix) bool
}

// FilterFunc adapts a function to a Filter.
type FilterFunc func(netip.Prefix) bool

func (f FilterFunc) Allow(p netip.Prefix) bool { return f(p) }

// AllowAll is a Filter that admits every prefix.
var AllowAll Filter = FilterFunc(func(netip.Prefix) bool { return true })

// DenyAll is a Filter that admits no prefix.
var DenyAll Filter = FilterFunc(func(netip.Prefix) bool { return false })
