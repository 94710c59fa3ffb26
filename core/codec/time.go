package codec

import (
	"encoding/binary"
	"fmt"
)

// -----------------------------------------------------------------------------
// TIME_REQUEST
// -----------------------------------------------------------------------------

// TimeRequest asks the gateway for the current time.
//
// Wire format: [tag(1)][node(1)]
type TimeRequest struct {
	Node uint8 // Requesting leaf's node number
}

// BuildTimeRequest builds a wire-format TIME_REQUEST.
func BuildTimeRequest(node uint8) []byte {
	return []byte{byte(TypeTimeRequest), node}
}

// ParseTimeRequest parses a TIME_REQUEST.
func ParseTimeRequest(data []byte) (*TimeRequest, error) {
	if err := checkHeader(data, TypeTimeRequest, TimeRequestSize); err != nil {
		return nil, err
	}
	return &TimeRequest{Node: data[1]}, nil
}

func (m *TimeRequest) Type() MessageType { return TypeTimeRequest }

// Bytes returns the wire encoding of the message.
func (m *TimeRequest) Bytes() []byte { return BuildTimeRequest(m.Node) }

func (m *TimeRequest) MarshalBinary() ([]byte, error) { return m.Bytes(), nil }

// UnmarshalBinary decodes data into m. On error m is left unchanged.
func (m *TimeRequest) UnmarshalBinary(data []byte) error {
	parsed, err := ParseTimeRequest(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// Render returns the message as text.
func (m *TimeRequest) Render(pretty bool) string {
	if pretty {
		return fmt.Sprintf("type: %s, node: %d", TypeTimeRequest, m.Node)
	}
	return fmt.Sprintf("%s, %d", TypeTimeRequest, m.Node)
}

func (m *TimeRequest) String() string { return m.Render(false) }

// -----------------------------------------------------------------------------
// TIME_RESPONSE
// -----------------------------------------------------------------------------

// TimeResponse carries the gateway's clock.
//
// Wire format: [tag(1)][node(1)][time(4, LE)]
type TimeResponse struct {
	Node uint8
	Time uint32 // UNIX epoch seconds
}

// BuildTimeResponse builds a wire-format TIME_RESPONSE.
func BuildTimeResponse(node uint8, time uint32) []byte {
	data := make([]byte, TimeResponseSize)
	data[0] = byte(TypeTimeResponse)
	data[1] = node
	binary.LittleEndian.PutUint32(data[2:6], time)
	return data
}

// ParseTimeResponse parses a TIME_RESPONSE.
func ParseTimeResponse(data []byte) (*TimeResponse, error) {
	if err := checkHeader(data, TypeTimeResponse, TimeResponseSize); err != nil {
		return nil, err
	}
	return &TimeResponse{
		Node: data[1],
		Time: binary.LittleEndian.Uint32(data[2:6]),
	}, nil
}

func (m *TimeResponse) Type() MessageType { return TypeTimeResponse }

// Bytes returns the wire encoding of the message.
func (m *TimeResponse) Bytes() []byte { return BuildTimeResponse(m.Node, m.Time) }

func (m *TimeResponse) MarshalBinary() ([]byte, error) { return m.Bytes(), nil }

// UnmarshalBinary decodes data into m. On error m is left unchanged.
func (m *TimeResponse) UnmarshalBinary(data []byte) error {
	parsed, err := ParseTimeResponse(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// Render returns the message as text.
func (m *TimeResponse) Render(pretty bool) string {
	if pretty {
		return fmt.Sprintf("type: %s, node: %d, time: %d", TypeTimeResponse, m.Node, m.Time)
	}
	return fmt.Sprintf("%s, %d, %d", TypeTimeResponse, m.Node, m.Time)
}

func (m *TimeResponse) String() string { return m.Render(false) }
