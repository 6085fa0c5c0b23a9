package bgpspeak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMessage_EncodeDecodeRoundTrip(t *testing.T) {
	caps := []Capability{NewMPExtensionsCapability(FamilyIPv4Unicast)}
	o := newOpenMessage(4200000001, 90*time.Second, 0x01020304, caps)

	b := o.encode()
	require.Greater(t, len(b), headerLength)

	decoded := &openMessage{}
	require.NoError(t, decoded.decode(b[headerLength:]))

	assert.Equal(t, uint16(asTrans), decoded.asn)
	assert.Equal(t, uint16(90), decoded.holdTime)
	assert.Equal(t, uint32(0x01020304), decoded.bgpID)
	asn, ok := decoded.fourOctetASN(0)
	require.True(t, ok)
	assert.Equal(t, uint32(4200000001), asn)
}

func TestOpenMessage_Validate(t *testing.T) {
	tests := []struct {
		name      string
		o         *openMessage
		localID   uint32
		localAS   uint32
		remoteAS  uint32
		wantError bool
	}{
		{
			name:     "valid",
			o:        newOpenMessage(65001, 90*time.Second, 1, nil),
			localID:  2,
			localAS:  65000,
			remoteAS: 65001,
		},
		{
			name:      "bad version",
			o:         &openMessage{version: 3, holdTime: 90, bgpID: 1},
			localID:   2,
			localAS:   65000,
			remoteAS:  65001,
			wantError: true,
		},
		{
			name:      "unacceptable hold time",
			o:         &openMessage{version: 4, holdTime: 1, bgpID: 1},
			localID:   2,
			localAS:   65000,
			remoteAS:  65001,
			wantError: true,
		},
		{
			name:      "bad peer AS",
			o:         newOpenMessage(65002, 90*time.Second, 1, nil),
			localID:   2,
			localAS:   65000,
			remoteAS:  65001,
			wantError: true,
		},
		{
			name:      "matching bgp id",
			o:         newOpenMessage(65001, 90*time.Second, 2, nil),
			localID:   2,
			localAS:   65001,
			remoteAS:  65001,
			wantError: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.o.validate(tt.localID, tt.localAS, tt.remoteAS)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseMessage_NeedMore(t *testing.T) {
	_, _, err := parseMessage([]byte{0xFF})
	assert.ErrorIs(t, err, ErrNeedMore)
}

func TestParseMessage_BadMarker(t *testing.T) {
	b := make([]byte, headerLength)
	b[0] = 0x00
	b[17] = headerLength
	b[18] = keepAliveMessageType
	_, _, err := parseMessage(b)
	require.Error(t, err)
	var ne *notificationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, NOTIF_CODE_MESSAGE_HEADER_ERR, ne.notification.Code)
}

func TestParseMessage_Keepalive(t *testing.T) {
	b := keepAliveMessage{}.encode()
	m, n, err := parseMessage(b)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, keepAliveMessageType, m.messageType())
}
