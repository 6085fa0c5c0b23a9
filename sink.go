package bgpspeak

// PourResult is the outcome of StreamSink.Pour.
type PourResult int

const (
	// NeedMore indicates the sink does not yet hold a complete message.
	NeedMore PourResult = iota
	// Poured indicates a complete message was decoded and written out.
	Poured
	// OutOfSync indicates the byte stream is no longer aligned on a message
	// boundary (a bad marker or an oversized/undersized length field), that
	// Feed overflowed the capacity, or that the front message failed to
	// decode; the sink can no longer be trusted and the session must tear
	// down.
	OutOfSync
)

func (r PourResult) String() string {
	switch r {
	case NeedMore:
		return "need-more"
	case Poured:
		return "poured"
	case OutOfSync:
		return "out-of-sync"
	default:
		return "unknown"
	}
}

const defaultSinkCapacity = 8 * 1024

// StreamSink accumulates bytes from a host-owned transport and hands back
// complete BGP messages one at a time. It is single-producer,
// single-consumer: a host calls Feed as bytes arrive off the wire and Pour
// to drain whatever complete messages are now available. The sink never
// blocks and never allocates a goroutine of its own, matching this
// package's synchronous engine contract.
type StreamSink struct {
	buf      []byte
	capacity int
	tainted  bool
}

// NewStreamSink returns a StreamSink with the given capacity, or
// defaultSinkCapacity (8 KiB) if capacity <= 0.
func NewStreamSink(capacity int) *StreamSink {
	if capacity <= 0 {
		capacity = defaultSinkCapacity
	}
	return &StreamSink{capacity: capacity}
}

// Feed appends b to the sink's internal buffer. It returns false, without
// copying b, if doing so would exceed the sink's capacity — the caller
// should treat this the same as an OutOfSync Pour result.
func (s *StreamSink) Feed(b []byte) bool {
	if s.tainted {
		return false
	}
	if len(s.buf)+len(b) > s.capacity {
		s.tainted = true
		return false
	}
	s.buf = append(s.buf, b...)
	return true
}

// Pour attempts to decode one complete message from the front of the
// buffered bytes. On Poured, msg holds the decoded message and the
// consumed bytes are dropped from the internal buffer. On NeedMore, msg is
// nil and the buffer is left untouched so a subsequent Feed can complete
// it. On OutOfSync the sink is permanently tainted; every subsequent call
// also returns OutOfSync until Reset is called.
func (s *StreamSink) Pour() (msg message, result PourResult, err error) {
	if s.tainted {
		return nil, OutOfSync, nil
	}
	m, n, perr := parseMessage(s.buf)
	if perr == ErrNeedMore {
		return nil, NeedMore, nil
	}
	if perr != nil {
		s.tainted = true
		return nil, OutOfSync, perr
	}
	s.buf = s.buf[n:]
	return m, Poured, nil
}

// Reset clears buffered bytes and the taint flag, for reuse after a session
// has torn down and a fresh one is starting on the same host-owned buffers.
func (s *StreamSink) Reset() {
	s.buf = s.buf[:0]
	s.tainted = false
}

// Buffered reports how many bytes are currently held, awaiting a complete
// message.
func (s *StreamSink) Buffered() int {
	return len(s.buf)
}
