package bgpspeak

import "fmt"

// Notification codes and subcodes, per https://tools.ietf.org/html/rfc4271#section-4.5
const (
	NOTIF_CODE_MESSAGE_HEADER_ERR uint8 = 1
	NOTIF_CODE_OPEN_MESSAGE_ERR   uint8 = 2
	NOTIF_CODE_UPDATE_MESSAGE_ERR uint8 = 3
	NOTIF_CODE_HOLD_TIMER_EXPIRED uint8 = 4
	NOTIF_CODE_FSM_ERR            uint8 = 5
	NOTIF_CODE_CEASE              uint8 = 6
)

const (
	NOTIF_SUBCODE_CONN_NOT_SYNCHRONIZED uint8 = 1
	NOTIF_SUBCODE_BAD_MESSAGE_LEN       uint8 = 2
	NOTIF_SUBCODE_BAD_MESSAGE_TYPE      uint8 = 3
)

const (
	NOTIF_SUBCODE_UNSUPPORTED_VERSION_NUM uint8 = 1
	NOTIF_SUBCODE_BAD_PEER_AS             uint8 = 2
	NOTIF_SUBCODE_BAD_BGP_ID              uint8 = 3
	NOTIF_SUBCODE_UNSUPPORTED_OPTIONAL_PARAM uint8 = 4
	NOTIF_SUBCODE_UNACCEPTABLE_HOLD_TIME  uint8 = 6
	NOTIF_SUBCODE_UNSUPPORTED_CAPABILITY  uint8 = 7
)

const (
	NOTIF_SUBCODE_MALFORMED_ATTR_LIST       uint8 = 1
	NOTIF_SUBCODE_UNRECOGNIZED_WELL_KNOWN   uint8 = 2
	NOTIF_SUBCODE_MISSING_WELL_KNOWN_ATTR   uint8 = 3
	NOTIF_SUBCODE_ATTR_FLAGS_ERR            uint8 = 4
	NOTIF_SUBCODE_ATTR_LEN_ERR              uint8 = 5
	NOTIF_SUBCODE_INVALID_ORIGIN_ATTR       uint8 = 6
	NOTIF_SUBCODE_INVALID_NEXT_HOP_ATTR     uint8 = 8
	NOTIF_SUBCODE_MALFORMED_AS_PATH         uint8 = 11
	NOTIF_SUBCODE_INVALID_NETWORK_FIELD     uint8 = 10
)

const (
	NOTIF_SUBCODE_RX_UNEXPECTED_MESSAGE_OPENSENT     uint8 = 1
	NOTIF_SUBCODE_RX_UNEXPECTED_MESSAGE_OPENCONFIRM   uint8 = 2
	NOTIF_SUBCODE_RX_UNEXPECTED_MESSAGE_ESTABLISHED   uint8 = 3
)

type notifDesc struct {
	desc     string
	subcodes map[uint8]string
}

var notifCodesMap = map[uint8]notifDesc{
	NOTIF_CODE_MESSAGE_HEADER_ERR: {
		desc: "message header error",
		subcodes: map[uint8]string{
			NOTIF_SUBCODE_CONN_NOT_SYNCHRONIZED: "connection not synchronized",
			NOTIF_SUBCODE_BAD_MESSAGE_LEN:       "bad message length",
			NOTIF_SUBCODE_BAD_MESSAGE_TYPE:      "bad message type",
		},
	},
	NOTIF_CODE_OPEN_MESSAGE_ERR: {
		desc: "open message error",
		subcodes: map[uint8]string{
			NOTIF_SUBCODE_UNSUPPORTED_VERSION_NUM:    "unsupported version number",
			NOTIF_SUBCODE_BAD_PEER_AS:                "bad peer AS",
			NOTIF_SUBCODE_BAD_BGP_ID:                 "bad BGP identifier",
			NOTIF_SUBCODE_UNSUPPORTED_OPTIONAL_PARAM: "unsupported optional parameter",
			NOTIF_SUBCODE_UNACCEPTABLE_HOLD_TIME:     "unacceptable hold time",
			NOTIF_SUBCODE_UNSUPPORTED_CAPABILITY:     "unsupported capability",
		},
	},
	NOTIF_CODE_UPDATE_MESSAGE_ERR: {
		desc: "update message error",
		subcodes: map[uint8]string{
			NOTIF_SUBCODE_MALFORMED_ATTR_LIST:     "malformed attribute list",
			NOTIF_SUBCODE_UNRECOGNIZED_WELL_KNOWN:  "unrecognized well-known attribute",
			NOTIF_SUBCODE_MISSING_WELL_KNOWN_ATTR:  "missing well-known attribute",
			NOTIF_SUBCODE_ATTR_FLAGS_ERR:           "attribute flags error",
			NOTIF_SUBCODE_ATTR_LEN_ERR:             "attribute length error",
			NOTIF_SUBCODE_INVALID_ORIGIN_ATTR:      "invalid origin attribute",
			NOTIF_SUBCODE_INVALID_NEXT_HOP_ATTR:    "invalid next hop attribute",
			NOTIF_SUBCODE_MALFORMED_AS_PATH:        "malformed AS_PATH",
			NOTIF_SUBCODE_INVALID_NETWORK_FIELD:    "invalid network field",
		},
	},
	NOTIF_CODE_HOLD_TIMER_EXPIRED: {desc: "hold timer expired"},
	NOTIF_CODE_FSM_ERR: {
		desc: "finite state machine error",
		subcodes: map[uint8]string{
			NOTIF_SUBCODE_RX_UNEXPECTED_MESSAGE_OPENSENT:   "unexpected message in OpenSent",
			NOTIF_SUBCODE_RX_UNEXPECTED_MESSAGE_OPENCONFIRM: "unexpected message in OpenConfirm",
			NOTIF_SUBCODE_RX_UNEXPECTED_MESSAGE_ESTABLISHED: "unexpected message in Established",
		},
	},
	NOTIF_CODE_CEASE: {desc: "cease"},
}

// Notification is a BGP NOTIFICATION message.
type Notification struct {
	Code    uint8
	Subcode uint8
	Data    []byte
}

func newNotification(code, subcode uint8, data []byte) *Notification {
	return &Notification{Code: code, Subcode: subcode, Data: data}
}

func (n *Notification) messageType() uint8 {
	return notificationMessageType
}

func (n *Notification) Error() string {
	var codeDesc, subcodeDesc string
	d, ok := notifCodesMap[n.Code]
	if ok {
		codeDesc = d.desc
		if s, ok := d.subcodes[n.Subcode]; ok {
			subcodeDesc = s
		}
	}
	return fmt.Sprintf("notification code:%d (%s) subcode:%d (%s)",
		n.Code, codeDesc, n.Subcode, subcodeDesc)
}

// notificationError wraps a Notification with the direction it travelled,
// distinguishing a Notification we sent to the peer from one the peer sent
// to us.
type notificationError struct {
	notification *Notification
	out          bool
}

func newNotificationError(n *Notification, out bool) *notificationError {
	return &notificationError{notification: n, out: out}
}

func (n *notificationError) Error() string {
	direction := "received"
	if n.out {
		direction = "sent"
	}
	return fmt.Sprintf("notification %s: %s", direction, n.notification.Error())
}

func (n *notificationError) Unwrap() error {
	return n.notification
}
