package bgpspeak

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/dgryski/go-farm"
)

// RouteSource identifies where a RIB entry's path came from, used by
// best-path rule 3 (LOCAL > EBGP > IBGP).
type RouteSource int

const (
	SrcLocal RouteSource = iota
	SrcEBGP
	SrcIBGP
)

// RIBEntry is one candidate path for a prefix, per 4.E. Entries are never
// mutated in place: replacing a route is always delete-then-insert.
type RIBEntry struct {
	Prefix       netip.Prefix
	SrcRouterID  uint32
	Attrs        *AttributeSet
	Weight       uint32
	UpdateID     uint64
	Src          RouteSource
	IBGPPeerASN  uint32
}

type ribKey struct {
	prefix      netip.Prefix
	srcRouterID uint32
}

// RIB is a Routing Information Base: a multi-map from (prefix,
// src_router_id) to entry, with best-path selection and longest-prefix
// lookup. One RIB holds prefixes of every address family side by side; it
// does not keep a separate table per family, and a Session stores all the
// families it receives in its single RIB. Lookup is accelerated by
// armon/go-radix (mirroring osrg/gobgp's table.Policy use of a radix tree
// for prefix matching) and by dgryski/go-farm for a coarse prefix hash used
// when grouping candidates (mirroring gobgp's internal/pkg/table use of
// farm.Hash64 to fingerprint attribute sets).
//
// RIB is safe for concurrent use: every exported method locks mu once and
// delegates to an unexported, lock-free twin. This gives the "reentrant
// mutex" the host-facing contract calls for without a hand-rolled reentrant
// lock — an exported method never calls another exported method while
// holding the lock, so there is nothing to reenter.
type RIB struct {
	mu      sync.Mutex
	entries map[ribKey]*RIBEntry
	byPrefixHash map[uint64][]ribKey
	tree    *radixTree
}

// NewRIB returns an empty RIB.
func NewRIB() *RIB {
	return &RIB{
		entries:      make(map[ribKey]*RIBEntry),
		byPrefixHash: make(map[uint64][]ribKey),
		tree:         newRadixTree(),
	}
}

func prefixHash(p netip.Prefix) uint64 {
	b := p.Addr().AsSlice()
	return farm.Hash64(b) ^ uint64(p.Bits())
}

func (r *RIB) candidates(prefix netip.Prefix) []*RIBEntry {
	h := prefixHash(prefix)
	keys := r.byPrefixHash[h]
	out := make([]*RIBEntry, 0, len(keys))
	for _, k := range keys {
		if k.prefix == prefix {
			if e, ok := r.entries[k]; ok {
				out = append(out, e)
			}
		}
	}
	return out
}

// better reports whether a ranks ahead of b under the seven best-path
// tie-break rules in 4.E, in order.
func better(a, b *RIBEntry) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	aPref, bPref := localPref(a.Attrs), localPref(b.Attrs)
	if aPref != bPref {
		return aPref > bPref
	}
	if rank(a.Src) != rank(b.Src) {
		return rank(a.Src) < rank(b.Src)
	}
	aLen, bLen := asPathLength(a.Attrs), asPathLength(b.Attrs)
	if aLen != bLen {
		return aLen < bLen
	}
	aOrigin, bOrigin := origin(a.Attrs), origin(b.Attrs)
	if aOrigin != bOrigin {
		return aOrigin < bOrigin
	}
	if neighborASNsMatch(a, b) {
		aMed, bMed := med(a.Attrs), med(b.Attrs)
		if aMed != bMed {
			return aMed < bMed
		}
	}
	if a.SrcRouterID != b.SrcRouterID {
		return a.SrcRouterID < b.SrcRouterID
	}
	return a.UpdateID < b.UpdateID
}

func rank(s RouteSource) int {
	switch s {
	case SrcLocal:
		return 0
	case SrcEBGP:
		return 1
	default:
		return 2
	}
}

func localPref(s *AttributeSet) uint32 {
	if s == nil {
		return 100
	}
	if a, ok := s.Get(attrTypeLocalPref); ok {
		return a.LocalPref
	}
	return 100
}

func origin(s *AttributeSet) uint8 {
	if s == nil {
		return OriginIncomplete
	}
	if a, ok := s.Get(attrTypeOrigin); ok {
		return a.Origin
	}
	return OriginIncomplete
}

func med(s *AttributeSet) uint32 {
	if s == nil {
		return 0
	}
	if a, ok := s.Get(attrTypeMultiExitDisc); ok {
		return a.MultiExitDisc
	}
	return 0
}

// asPathLength counts AS_SEQUENCE contributions; AS_SET counts as 1 segment
// regardless of member count; confederation segment types (not modeled by
// name here since this package only ever emits AS_SET/AS_SEQUENCE) would
// count 0.
func asPathLength(s *AttributeSet) int {
	if s == nil {
		return 0
	}
	a, ok := s.Get(attrTypeAsPath)
	if !ok {
		return 0
	}
	n := 0
	for _, seg := range a.AsPath {
		switch seg.Type {
		case AsSequence:
			n += len(seg.ASNs)
		case AsSet:
			n++
		}
	}
	return n
}

func neighborASNsMatch(a, b *RIBEntry) bool {
	return a.IBGPPeerASN != 0 && a.IBGPPeerASN == b.IBGPPeerASN
}

// bestOf returns the best candidate among entries, or nil if entries is
// empty.
func bestOf(entries []*RIBEntry) *RIBEntry {
	if len(entries) == 0 {
		return nil
	}
	sorted := append([]*RIBEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return better(sorted[i], sorted[j]) })
	return sorted[0]
}

// Insert replaces any existing entry with the same (prefix, src_router_id)
// key, recomputes the best path for that prefix, and returns the new best
// entry only if the best path changed.
func (r *RIB) Insert(srcRouterID uint32, prefix netip.Prefix, attrs *AttributeSet,
	weight uint32, updateID uint64, src RouteSource, ibgpPeerASN uint32) (changed *RIBEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(srcRouterID, prefix, attrs, weight, updateID, src, ibgpPeerASN)
}

func (r *RIB) insert(srcRouterID uint32, prefix netip.Prefix, attrs *AttributeSet,
	weight uint32, updateID uint64, src RouteSource, ibgpPeerASN uint32) *RIBEntry {
	prefix = canonicalize(prefix)
	key := ribKey{prefix: prefix, srcRouterID: srcRouterID}

	before := bestOf(r.candidates(prefix))

	entry := &RIBEntry{
		Prefix:      prefix,
		SrcRouterID: srcRouterID,
		Attrs:       attrs,
		Weight:      weight,
		UpdateID:    updateID,
		Src:         src,
		IBGPPeerASN: ibgpPeerASN,
	}
	if _, existed := r.entries[key]; !existed {
		h := prefixHash(prefix)
		r.byPrefixHash[h] = append(r.byPrefixHash[h], key)
		r.tree.insert(prefix)
	}
	r.entries[key] = entry

	after := bestOf(r.candidates(prefix))
	if after != nil && after != before {
		return after
	}
	return nil
}

// Withdraw removes the entry for (srcRouterID, prefix). stillReachable is
// false when no candidates remain for the prefix; replacement is non-nil
// when another candidate has become the new best and must be re-advertised.
func (r *RIB) Withdraw(srcRouterID uint32, prefix netip.Prefix) (stillReachable bool, replacement *RIBEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.withdraw(srcRouterID, prefix)
}

func (r *RIB) withdraw(srcRouterID uint32, prefix netip.Prefix) (bool, *RIBEntry) {
	prefix = canonicalize(prefix)
	key := ribKey{prefix: prefix, srcRouterID: srcRouterID}
	before := bestOf(r.candidates(prefix))
	wasBest := before != nil && before.SrcRouterID == srcRouterID

	r.removeKey(key)

	remaining := r.candidates(prefix)
	if len(remaining) == 0 {
		return false, nil
	}
	if !wasBest {
		return true, nil
	}
	return true, bestOf(remaining)
}

func (r *RIB) removeKey(key ribKey) {
	if _, ok := r.entries[key]; !ok {
		return
	}
	delete(r.entries, key)
	h := prefixHash(key.prefix)
	keys := r.byPrefixHash[h]
	for i, k := range keys {
		if k == key {
			r.byPrefixHash[h] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	r.tree.remove(key.prefix)
	if len(r.candidates(key.prefix)) == 0 {
		delete(r.byPrefixHash, h)
	}
}

// Discard removes every entry from srcRouterID in a single pass, returning
// prefixes that became unreachable and new best entries for prefixes that
// still have other candidates.
func (r *RIB) Discard(srcRouterID uint32) (unreachable []netip.Prefix, replacements []*RIBEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discard(srcRouterID)
}

func (r *RIB) discard(srcRouterID uint32) ([]netip.Prefix, []*RIBEntry) {
	var owned []ribKey
	for k := range r.entries {
		if k.srcRouterID == srcRouterID {
			owned = append(owned, k)
		}
	}

	for _, k := range owned {
		r.removeKey(k)
	}

	var unreachable []netip.Prefix
	var replacements []*RIBEntry
	seen := make(map[netip.Prefix]bool)
	for _, k := range owned {
		if seen[k.prefix] {
			continue
		}
		seen[k.prefix] = true
		remaining := r.candidates(k.prefix)
		if len(remaining) == 0 {
			unreachable = append(unreachable, k.prefix)
			continue
		}
		replacements = append(replacements, bestOf(remaining))
	}
	return unreachable, replacements
}

// Lookup performs a longest-prefix match against dst, optionally scoped to
// one src_router_id, returning the best candidate among matches.
func (r *RIB) Lookup(dst netip.Addr, srcRouterID ...uint32) (*RIBEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(dst, srcRouterID...)
}

func (r *RIB) lookup(dst netip.Addr, srcRouterID ...uint32) (*RIBEntry, bool) {
	matches := r.tree.longestMatches(dst)
	var candidates []*RIBEntry
	for _, p := range matches {
		for _, e := range r.candidates(p) {
			if len(srcRouterID) > 0 && e.SrcRouterID != srcRouterID[0] {
				continue
			}
			candidates = append(candidates, e)
		}
	}
	best := bestOf(candidates)
	if best == nil {
		return nil, false
	}
	return best, true
}

// Size reports the total number of entries across all prefixes.
func (r *RIB) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
