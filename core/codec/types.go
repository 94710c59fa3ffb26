package codec

import (
	"errors"
)

// MessageType is the leading tag byte of every sensor network message.
type MessageType uint8

const (
	// TypeInvalid is never sent. GetMessageType returns it for an empty buffer.
	TypeInvalid MessageType = 0

	TypeJoinRequest  MessageType = 1  // Leaf asks for a node number
	TypeJoinResponse MessageType = 2  // Gateway assigns a node number and the time
	TypeTimeRequest  MessageType = 3  // Joined leaf asks for the time
	TypeTimeResponse MessageType = 4  // Gateway answers with the time
	TypeDataMessage  MessageType = 10 // Telemetry sample, ACKed by the link layer only
	TypeText         MessageType = 11 // Free-form text, ACKed by the link layer only

	// TypeDataPacket is the tag reserved for the pre-tag telemetry layout.
	// It is recognized by name but never built or decoded as a tagged message.
	TypeDataPacket MessageType = 12
)

const (
	// MaxMessageLen is the largest payload the radio link layer accepts
	// (RFM95 in reliable datagram mode).
	MaxMessageLen = 251

	// TypeSize is the wire width of the MessageType tag.
	TypeSize = 1

	JoinRequestSize  = TypeSize + 8         // tag + dev_eui
	JoinResponseSize = TypeSize + 1 + 1 + 4 // tag + node + leaf_node + time
	TimeRequestSize  = TypeSize + 1         // tag + node
	TimeResponseSize = TypeSize + 1 + 4     // tag + node + time

	// DataMessageSize covers tag, node, message, time, battery,
	// last_tx_duration, temp, humidity and status.
	DataMessageSize = TypeSize + 1 + 4 + 4 + 2 + 2 + 2 + 2 + 1 // 19 bytes

	// TextHeaderSize is tag + node + length.
	TextHeaderSize = TypeSize + 1 + 1
	// TextBufLen is the fixed capacity of a text message body.
	TextBufLen = MaxMessageLen - TextHeaderSize // 248 bytes
	// TextMessageSize is always the full link-layer payload.
	TextMessageSize = TextHeaderSize + TextBufLen

	// LegacyDataPacketSize is the untagged telemetry layout that predates
	// DataMessage: the same fields without the leading tag.
	LegacyDataPacketSize = DataMessageSize - TypeSize // 18 bytes
)

var (
	ErrMessageTooShort = errors.New("message too short")
	ErrTypeMismatch    = errors.New("message type mismatch")
	ErrSizeMismatch    = errors.New("message size does not match its type")
	ErrUnsupportedType = errors.New("unsupported message type")
)

// String returns the human-readable name of the message type.
func (t MessageType) String() string {
	return TypeName(t)
}

// IsKnown reports whether t is one of the tags this package recognizes,
// including the legacy data packet tag.
func (t MessageType) IsKnown() bool {
	return TypeName(t) != "unknown"
}

// TypeName returns a stable name for a message type. Tags outside the
// closed set are named "unknown" rather than rejected.
func TypeName(t MessageType) string {
	switch t {
	case TypeJoinRequest:
		return "join request"
	case TypeJoinResponse:
		return "join response"
	case TypeTimeRequest:
		return "time request"
	case TypeTimeResponse:
		return "time response"
	case TypeDataMessage:
		return "data message"
	case TypeText:
		return "text"
	case TypeDataPacket:
		return "data packet"
	default:
		return "unknown"
	}
}

// MessageSize returns the exact wire size of a tagged message kind.
// The legacy data packet and unknown tags have no tagged layout.
func MessageSize(t MessageType) (int, bool) {
	switch t {
	case TypeJoinRequest:
		return JoinRequestSize, true
	case TypeJoinResponse:
		return JoinResponseSize, true
	case TypeTimeRequest:
		return TimeRequestSize, true
	case TypeTimeResponse:
		return TimeResponseSize, true
	case TypeDataMessage:
		return DataMessageSize, true
	case TypeText:
		return TextMessageSize, true
	default:
		return 0, false
	}
}

// GetMessageType returns the tag of any message buffer. Only the first
// byte is read; the rest of the buffer is not validated, so the result must
// be checked again by the matching Parse function before trusting fields.
func GetMessageType(data []byte) MessageType {
	if len(data) < TypeSize {
		return TypeInvalid
	}
	return MessageType(data[0])
}
