package codec

import (
	"encoding/binary"
	"fmt"
)

// -----------------------------------------------------------------------------
// JOIN_REQUEST
// -----------------------------------------------------------------------------

// JoinRequest is sent by a leaf node that has no node number yet. It carries
// only the device EUI the gateway binds the new node number to.
//
// Wire format: [tag(1)][dev_eui(8, LE)]
type JoinRequest struct {
	DevEUI uint64
}

// BuildJoinRequest builds a wire-format JOIN_REQUEST.
func BuildJoinRequest(devEUI uint64) []byte {
	data := make([]byte, JoinRequestSize)
	data[0] = byte(TypeJoinRequest)
	binary.LittleEndian.PutUint64(data[1:9], devEUI)
	return data
}

// ParseJoinRequest parses a JOIN_REQUEST.
func ParseJoinRequest(data []byte) (*JoinRequest, error) {
	if err := checkHeader(data, TypeJoinRequest, JoinRequestSize); err != nil {
		return nil, err
	}
	return &JoinRequest{
		DevEUI: binary.LittleEndian.Uint64(data[1:9]),
	}, nil
}

func (m *JoinRequest) Type() MessageType { return TypeJoinRequest }

// Bytes returns the wire encoding of the message.
func (m *JoinRequest) Bytes() []byte { return BuildJoinRequest(m.DevEUI) }

func (m *JoinRequest) MarshalBinary() ([]byte, error) { return m.Bytes(), nil }

// UnmarshalBinary decodes data into m. On error m is left unchanged.
func (m *JoinRequest) UnmarshalBinary(data []byte) error {
	parsed, err := ParseJoinRequest(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// Render returns the message as text. The compact form is the field values
// only; the pretty form adds field names.
func (m *JoinRequest) Render(pretty bool) string {
	if pretty {
		return fmt.Sprintf("type: %s, device EUI: %s", TypeJoinRequest, formatEUI(m.DevEUI))
	}
	return fmt.Sprintf("%s, %s", TypeJoinRequest, formatEUI(m.DevEUI))
}

func (m *JoinRequest) String() string { return m.Render(false) }

// -----------------------------------------------------------------------------
// JOIN_RESPONSE
// -----------------------------------------------------------------------------

// JoinResponse is the gateway's answer to a JoinRequest: the node number the
// leaf must use from now on and the current time for its clock.
//
// Wire format: [tag(1)][node(1)][leaf_node(1)][time(4, LE)]
type JoinResponse struct {
	Node     uint8  // Assigned node number, 1-254 (0 is reserved)
	LeafNode uint8  // Target identifier byte echoed back to the requesting leaf
	Time     uint32 // UNIX epoch seconds
}

// LeafNodeFromEUI returns the byte a join response uses to address the
// requesting leaf: the low-order byte of its device EUI.
func LeafNodeFromEUI(devEUI uint64) uint8 {
	return uint8(devEUI)
}

// BuildJoinResponse builds a wire-format JOIN_RESPONSE.
func BuildJoinResponse(node, leafNode uint8, time uint32) []byte {
	data := make([]byte, JoinResponseSize)
	data[0] = byte(TypeJoinResponse)
	data[1] = node
	data[2] = leafNode
	binary.LittleEndian.PutUint32(data[3:7], time)
	return data
}

// ParseJoinResponse parses a JOIN_RESPONSE.
func ParseJoinResponse(data []byte) (*JoinResponse, error) {
	if err := checkHeader(data, TypeJoinResponse, JoinResponseSize); err != nil {
		return nil, err
	}
	return &JoinResponse{
		Node:     data[1],
		LeafNode: data[2],
		Time:     binary.LittleEndian.Uint32(data[3:7]),
	}, nil
}

func (m *JoinResponse) Type() MessageType { return TypeJoinResponse }

// Bytes returns the wire encoding of the message.
func (m *JoinResponse) Bytes() []byte { return BuildJoinResponse(m.Node, m.LeafNode, m.Time) }

func (m *JoinResponse) MarshalBinary() ([]byte, error) { return m.Bytes(), nil }

// UnmarshalBinary decodes data into m. On error m is left unchanged.
func (m *JoinResponse) UnmarshalBinary(data []byte) error {
	parsed, err := ParseJoinResponse(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// Render returns the message as text.
func (m *JoinResponse) Render(pretty bool) string {
	if pretty {
		return fmt.Sprintf("type: %s, node: %d, leaf node: %d, time: %d",
			TypeJoinResponse, m.Node, m.LeafNode, m.Time)
	}
	return fmt.Sprintf("%s, %d, %d, %d", TypeJoinResponse, m.Node, m.LeafNode, m.Time)
}

func (m *JoinResponse) String() string { return m.Render(false) }
