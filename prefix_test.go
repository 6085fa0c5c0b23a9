package bgpspeak

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyOf(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   Family
	}{
		{name: "v4", prefix: "192.0.2.0/24", want: FamilyIPv4Unicast},
		{name: "v6", prefix: "2001:db8::/32", want: FamilyIPv6Unicast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := netip.MustParsePrefix(tt.prefix)
			assert.Equal(t, tt.want, FamilyOf(p))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	p := netip.MustParsePrefix("192.0.2.5/24")
	c := canonicalize(p)
	require.Equal(t, 24, c.Bits())
	assert.Equal(t, "192.0.2.0", c.Addr().String())
}

func TestIncludes(t *testing.T) {
	p := netip.MustParsePrefix("192.0.2.0/24")
	assert.True(t, includes(p, netip.MustParseAddr("192.0.2.200")))
	assert.False(t, includes(p, netip.MustParseAddr("192.0.3.1")))
}
