package codec

import (
	"fmt"
	"strconv"
)

// Message is implemented by every tagged message kind.
type Message interface {
	// Type returns the message's tag.
	Type() MessageType
	// Bytes returns the fixed-size wire encoding.
	Bytes() []byte
	// Render returns the compact (pretty == false) or labelled text form.
	Render(pretty bool) string
	String() string
}

// Compile-time interface checks.
var (
	_ Message = (*JoinRequest)(nil)
	_ Message = (*JoinResponse)(nil)
	_ Message = (*TimeRequest)(nil)
	_ Message = (*TimeResponse)(nil)
	_ Message = (*DataMessage)(nil)
	_ Message = (*TextMessage)(nil)
)

// Decode reads the tag of data and decodes it into the matching message
// type. The buffer must be exactly the size the registry lists for its tag;
// a buffer of any other length is rejected rather than reinterpreted.
func Decode(data []byte) (Message, error) {
	if len(data) < TypeSize {
		return nil, ErrMessageTooShort
	}

	t := GetMessageType(data)
	size, ok := MessageSize(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%d)", ErrUnsupportedType, t, uint8(t))
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %s is %d bytes, got %d", ErrSizeMismatch, t, size, len(data))
	}

	var (
		msg Message
		err error
	)
	switch t {
	case TypeJoinRequest:
		msg, err = ParseJoinRequest(data)
	case TypeJoinResponse:
		msg, err = ParseJoinResponse(data)
	case TypeTimeRequest:
		msg, err = ParseTimeRequest(data)
	case TypeTimeResponse:
		msg, err = ParseTimeResponse(data)
	case TypeDataMessage:
		msg, err = ParseDataMessage(data)
	case TypeText:
		msg, err = ParseTextMessage(data)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// checkHeader verifies that the tag of data matches want and that data is
// long enough for a message of the given size. The tag is checked first
// whenever one is present; there is no checksum in any message.
func checkHeader(data []byte, want MessageType, size int) error {
	if len(data) >= TypeSize {
		if got := GetMessageType(data); got != want {
			return fmt.Errorf("%w: expected %s, got %s (%d)", ErrTypeMismatch, want, got, uint8(got))
		}
	}
	if len(data) < size {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMessageTooShort, want, size, len(data))
	}
	return nil
}

// formatEUI renders a device EUI in hex without zero padding.
func formatEUI(eui uint64) string {
	return "0x" + strconv.FormatUint(eui, 16)
}

func formatStatus(status uint8) string {
	return fmt.Sprintf("0x%02x", status)
}

// formatScaled renders a value scaled by DataScale with two decimals,
// using integer arithmetic so the output is exact.
func formatScaled(v int32) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/DataScale, v%DataScale)
}
