package bgpspeak

import (
	"net/netip"

	"github.com/armon/go-radix"
)

// radixTree accelerates RIB longest-prefix-match lookups using
// armon/go-radix, the same library osrg/gobgp's table.Policy uses for CIDR
// matching. Each stored prefix is keyed by the bit-string of its masked
// network address truncated to its prefix length, so radix.Tree's own
// LongestPrefix walk — which finds the longest tree key that is a prefix of
// the query key — directly implements longest-prefix-match over networks
// once the query key is the full bit-string of the destination address.
type radixTree struct {
	t      *radix.Tree
	counts map[string]int
}

func newRadixTree() *radixTree {
	return &radixTree{t: radix.New(), counts: make(map[string]int)}
}

func bitString(addr netip.Addr, bits int) string {
	raw := addr.AsSlice()
	out := make([]byte, bits)
	for i := 0; i < bits; i++ {
		byteIdx := i / 8
		bitIdx := uint(7 - i%8)
		if byteIdx < len(raw) && raw[byteIdx]&(1<<bitIdx) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out)
}

func (t *radixTree) insert(p netip.Prefix) {
	k := bitString(p.Addr(), p.Bits())
	t.counts[k]++
	t.t.Insert(k, p)
}

func (t *radixTree) remove(p netip.Prefix) {
	k := bitString(p.Addr(), p.Bits())
	t.counts[k]--
	if t.counts[k] <= 0 {
		delete(t.counts, k)
		t.t.Delete(k)
	}
}

// longestMatches returns the most specific stored prefix covering dst, if
// any, as a single-element slice (kept as a slice so callers that want to
// broaden to multiple equally-specific candidates later don't need an
// interface change).
func (t *radixTree) longestMatches(dst netip.Addr) []netip.Prefix {
	full := bitString(dst, dst.BitLen())
	_, v, ok := t.t.LongestPrefix(full)
	if !ok {
		return nil
	}
	return []netip.Prefix{v.(netip.Prefix)}
}
