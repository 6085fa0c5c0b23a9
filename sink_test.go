package bgpspeak

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamSink_FeedThenPour(t *testing.T) {
	sink := NewStreamSink(0)
	full := keepAliveMessage{}.encode()

	ok := sink.Feed(full[:10])
	require.True(t, ok)
	_, result, err := sink.Pour()
	require.NoError(t, err)
	assert.Equal(t, NeedMore, result)

	ok = sink.Feed(full[10:])
	require.True(t, ok)
	msg, result, err := sink.Pour()
	require.NoError(t, err)
	assert.Equal(t, Poured, result)
	assert.Equal(t, keepAliveMessageType, msg.messageType())
}

func TestStreamSink_MultipleMessagesQueued(t *testing.T) {
	sink := NewStreamSink(0)
	one := keepAliveMessage{}.encode()
	two := keepAliveMessage{}.encode()
	sink.Feed(append(append([]byte{}, one...), two...))

	_, result, _ := sink.Pour()
	assert.Equal(t, Poured, result)
	_, result, _ = sink.Pour()
	assert.Equal(t, Poured, result)
	_, result, _ = sink.Pour()
	assert.Equal(t, NeedMore, result)
}

func TestStreamSink_OutOfSyncOnBadMarker(t *testing.T) {
	sink := NewStreamSink(0)
	bad := make([]byte, headerLength)
	bad[0] = 0x00
	bad[17] = headerLength
	bad[18] = keepAliveMessageType
	sink.Feed(bad)

	_, result, err := sink.Pour()
	assert.Equal(t, OutOfSync, result)
	assert.Error(t, err)

	_, result, _ = sink.Pour()
	assert.Equal(t, OutOfSync, result, "sink stays tainted until Reset")
}

func TestStreamSink_FeedOverCapacityTaints(t *testing.T) {
	sink := NewStreamSink(4)
	ok := sink.Feed(make([]byte, 8))
	assert.False(t, ok)
	_, result, _ := sink.Pour()
	assert.Equal(t, OutOfSync, result)
}

func TestStreamSink_Reset(t *testing.T) {
	sink := NewStreamSink(0)
	bad := make([]byte, headerLength)
	bad[17] = headerLength
	sink.Feed(bad)
	sink.Pour()
	sink.Reset()
	assert.Equal(t, 0, sink.Buffered())
}
