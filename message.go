package bgpspeak

import (
	"encoding/binary"
	"errors"
	"math"
	"net/netip"
	"time"
)

// message type codes, per https://tools.ietf.org/html/rfc4271#section-4.1
const (
	openMessageType         uint8 = 1
	updateMessageType       uint8 = 2
	notificationMessageType uint8 = 3
	keepAliveMessageType    uint8 = 4
)

const (
	headerLength     = 19
	maxMessageLength = 4096
)

// message is any of the four BGP message types.
type message interface {
	messageType() uint8
}

// messageFromBytes decodes the body of a message (the header already
// stripped) given its type code.
func messageFromBytes(b []byte, messageType uint8) (message, error) {
	switch messageType {
	case openMessageType:
		o := &openMessage{}
		if err := o.decode(b); err != nil {
			return nil, err
		}
		return o, nil
	case updateMessageType:
		u := make([]byte, len(b))
		copy(u, b)
		return updateMessage(u), nil
	case notificationMessageType:
		n := &Notification{}
		if err := decodeNotification(n, b); err != nil {
			return nil, err
		}
		return n, nil
	case keepAliveMessageType:
		return keepAliveMessage{}, nil
	default:
		n := newNotification(NOTIF_CODE_MESSAGE_HEADER_ERR,
			NOTIF_SUBCODE_BAD_MESSAGE_TYPE, []byte{messageType})
		return nil, newNotificationError(n, true)
	}
}

// prependHeader prepends the 19 octet BGP header (16 octet all-ones marker,
// 2 octet big-endian length, 1 octet type) to m.
func prependHeader(m []byte, t uint8) []byte {
	b := make([]byte, headerLength)
	for i := 0; i < 16; i++ {
		b[i] = 0xFF
	}
	binary.BigEndian.PutUint16(b[16:], uint16(len(m)+headerLength))
	b[18] = t
	return append(b, m...)
}

func decodeNotification(n *Notification, b []byte) error {
	if len(b) < 2 {
		return errors.New("notification message too short")
	}
	n.Code = b[0]
	n.Subcode = b[1]
	if len(b) > 2 {
		n.Data = make([]byte, len(b)-2)
		copy(n.Data, b[2:])
	}
	return nil
}

func (n *Notification) encode() []byte {
	b := make([]byte, 2, 2+len(n.Data))
	b[0] = n.Code
	b[1] = n.Subcode
	b = append(b, n.Data...)
	return prependHeader(b, notificationMessageType)
}

type keepAliveMessage struct{}

func (keepAliveMessage) messageType() uint8 { return keepAliveMessageType }

func (keepAliveMessage) encode() []byte {
	return prependHeader(nil, keepAliveMessageType)
}

// Capability is a BGP capability, per https://tools.ietf.org/html/rfc5492
type Capability struct {
	Code  uint8
	Value []byte
}

const (
	CAP_MP_EXTENSIONS uint8 = 1
	CAP_FOUR_OCTET_AS uint8 = 65
)

func (c Capability) encode() []byte {
	b := make([]byte, 2+len(c.Value))
	b[0] = c.Code
	b[1] = uint8(len(c.Value))
	copy(b[2:], c.Value)
	return b
}

// NewMPExtensionsCapability returns a Multiprotocol Extensions capability for
// the given AFI/SAFI, per https://tools.ietf.org/html/rfc4760
func NewMPExtensionsCapability(f Family) Capability {
	v := make([]byte, 4)
	binary.BigEndian.PutUint16(v, f.AFI)
	v[3] = f.SAFI
	return Capability{Code: CAP_MP_EXTENSIONS, Value: v}
}

func newFourOctetASCap(asn uint32) Capability {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, asn)
	return Capability{Code: CAP_FOUR_OCTET_AS, Value: v}
}

const (
	asTrans uint16 = 23456
)

const capabilityOptionalParamType uint8 = 2

// openMessage is the OPEN message, per https://tools.ietf.org/html/rfc4271#section-4.2
type openMessage struct {
	version  uint8
	asn      uint16
	holdTime uint16
	bgpID    uint32
	caps     []Capability
}

func (o *openMessage) messageType() uint8 { return openMessageType }

func newOpenMessage(localASN uint32, holdTime time.Duration, bgpID uint32,
	caps []Capability) *openMessage {
	allCaps := make([]Capability, 0, len(caps)+1)
	allCaps = append(allCaps, newFourOctetASCap(localASN))
	for _, c := range caps {
		if c.Code != CAP_FOUR_OCTET_AS {
			allCaps = append(allCaps, c)
		}
	}
	o := &openMessage{
		version:  4,
		holdTime: uint16(holdTime.Truncate(time.Second).Seconds()),
		bgpID:    bgpID,
		caps:     allCaps,
	}
	if localASN > math.MaxUint16 {
		o.asn = asTrans
	} else {
		o.asn = uint16(localASN)
	}
	return o
}

func (o *openMessage) fourOctetASN(remoteASHint uint32) (uint32, bool) {
	for _, c := range o.caps {
		if c.Code == CAP_FOUR_OCTET_AS && len(c.Value) == 4 {
			return binary.BigEndian.Uint32(c.Value), true
		}
	}
	return 0, false
}

// use4b reports whether this Open advertised four-octet ASN capability.
func (o *openMessage) use4b() bool {
	_, ok := o.fourOctetASN(0)
	return ok
}

// validate checks the peer's Open message against https://tools.ietf.org/html/rfc4271#section-6.2
func (o *openMessage) validate(localID, localAS, remoteAS uint32) error {
	if o.version != 4 {
		n := newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR,
			NOTIF_SUBCODE_UNSUPPORTED_VERSION_NUM, []byte{0, 4})
		return newNotificationError(n, true)
	}
	if o.holdTime != 0 && o.holdTime < 3 {
		n := newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR,
			NOTIF_SUBCODE_UNACCEPTABLE_HOLD_TIME, nil)
		return newNotificationError(n, true)
	}
	var idb [4]byte
	binary.BigEndian.PutUint32(idb[:], o.bgpID)
	if netip.AddrFrom4(idb).IsMulticast() {
		n := newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR,
			NOTIF_SUBCODE_BAD_BGP_ID, nil)
		return newNotificationError(n, true)
	}
	fourOctetASN, fourOctetASNFound := o.fourOctetASN(remoteAS)
	if o.asn == asTrans {
		if !fourOctetASNFound || fourOctetASN != remoteAS {
			n := newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR,
				NOTIF_SUBCODE_BAD_PEER_AS, nil)
			return newNotificationError(n, true)
		}
	} else if uint32(o.asn) != remoteAS {
		n := newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR,
			NOTIF_SUBCODE_BAD_PEER_AS, nil)
		return newNotificationError(n, true)
	} else if fourOctetASNFound && fourOctetASN != remoteAS {
		n := newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR,
			NOTIF_SUBCODE_BAD_PEER_AS, nil)
		return newNotificationError(n, true)
	}
	// https://tools.ietf.org/html/rfc6286#section-2.2
	if localAS == remoteAS && localID == o.bgpID {
		n := newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR,
			NOTIF_SUBCODE_BAD_BGP_ID, nil)
		return newNotificationError(n, true)
	}
	return nil
}

func (o *openMessage) decode(b []byte) error {
	if len(b) < 10 {
		n := newNotification(NOTIF_CODE_MESSAGE_HEADER_ERR,
			NOTIF_SUBCODE_BAD_MESSAGE_LEN, nil)
		return newNotificationError(n, true)
	}
	o.version = b[0]
	o.asn = binary.BigEndian.Uint16(b[1:3])
	o.holdTime = binary.BigEndian.Uint16(b[3:5])
	o.bgpID = binary.BigEndian.Uint32(b[5:9])
	paramsLen := int(b[9])
	if paramsLen != len(b)-10 {
		return newNotificationError(newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR, 0, nil), true)
	}
	caps, err := decodeOptionalParams(b[10:])
	if err != nil {
		return err
	}
	o.caps = caps
	return nil
}

func decodeOptionalParams(b []byte) ([]Capability, error) {
	caps := make([]Capability, 0)
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, newNotificationError(newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR, 0, nil), true)
		}
		paramCode := b[0]
		paramLen := int(b[1])
		if len(b) < paramLen+2 {
			return nil, newNotificationError(newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR, 0, nil), true)
		}
		paramBody := b[2 : 2+paramLen]
		b = b[2+paramLen:]
		switch paramCode {
		case capabilityOptionalParamType:
			cs, err := decodeCapabilities(paramBody)
			if err != nil {
				return nil, err
			}
			caps = append(caps, cs...)
		default:
			n := newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR,
				NOTIF_SUBCODE_UNSUPPORTED_OPTIONAL_PARAM, nil)
			return nil, newNotificationError(n, true)
		}
	}
	return caps, nil
}

func decodeCapabilities(b []byte) ([]Capability, error) {
	caps := make([]Capability, 0)
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, newNotificationError(newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR, 0, nil), true)
		}
		code := b[0]
		l := int(b[1])
		if len(b) < 2+l {
			return nil, newNotificationError(newNotification(NOTIF_CODE_OPEN_MESSAGE_ERR, 0, nil), true)
		}
		var value []byte
		if l > 0 {
			value = make([]byte, l)
			copy(value, b[2:2+l])
		}
		caps = append(caps, Capability{Code: code, Value: value})
		b = b[2+l:]
	}
	return caps, nil
}

func (o *openMessage) encode() []byte {
	b := make([]byte, 9)
	b[0] = o.version
	binary.BigEndian.PutUint16(b[1:3], o.asn)
	binary.BigEndian.PutUint16(b[3:5], o.holdTime)
	binary.BigEndian.PutUint32(b[5:9], o.bgpID)
	capsBytes := make([]byte, 0)
	for _, c := range o.caps {
		capsBytes = append(capsBytes, c.encode()...)
	}
	param := make([]byte, 0, 2+len(capsBytes))
	param = append(param, capabilityOptionalParamType, uint8(len(capsBytes)))
	param = append(param, capsBytes...)
	b = append(b, uint8(len(param)))
	b = append(b, param...)
	return prependHeader(b, openMessageType)
}

// parseMessage reads one full message (header + body) from b, returning the decoded
// message and the number of bytes consumed. It returns ErrNeedMore if b does
// not yet contain a full message.
func parseMessage(b []byte) (message, int, error) {
	if len(b) < headerLength {
		return nil, 0, ErrNeedMore
	}
	for i := 0; i < 16; i++ {
		if b[i] != 0xFF {
			n := newNotification(NOTIF_CODE_MESSAGE_HEADER_ERR,
				NOTIF_SUBCODE_CONN_NOT_SYNCHRONIZED, nil)
			return nil, 0, newNotificationError(n, true)
		}
	}
	msgLen := int(binary.BigEndian.Uint16(b[16:18]))
	if msgLen < headerLength || msgLen > maxMessageLength {
		n := newNotification(NOTIF_CODE_MESSAGE_HEADER_ERR,
			NOTIF_SUBCODE_BAD_MESSAGE_LEN, nil)
		return nil, 0, newNotificationError(n, true)
	}
	if len(b) < msgLen {
		return nil, 0, ErrNeedMore
	}
	m, err := messageFromBytes(b[headerLength:msgLen], b[18])
	if err != nil {
		return nil, 0, err
	}
	return m, msgLen, nil
}

// ErrNeedMore indicates that the supplied bytes do not yet contain a
// complete message.
var ErrNeedMore = errors.New("need more bytes")
