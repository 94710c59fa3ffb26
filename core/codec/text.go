package codec

import (
	"fmt"
)

// TextMessage is free-form text from a node. The body always occupies the
// full TextBufLen bytes on the wire; the length byte says how many of them
// are valid. The body is not NUL terminated.
//
// Wire format: [tag(1)][node(1)][length(1)][buf(TextBufLen)]
type TextMessage struct {
	Node uint8
	Text []byte // At most TextBufLen bytes
}

// BuildTextMessage builds a wire-format TEXT message. At most TextBufLen
// bytes of text are copied; the stored length is the number actually copied.
func BuildTextMessage(node uint8, text []byte) []byte {
	n := min(len(text), TextBufLen)

	data := make([]byte, TextMessageSize)
	data[0] = byte(TypeText)
	data[1] = node
	data[2] = uint8(n)
	copy(data[TextHeaderSize:], text[:n])
	return data
}

// ParseTextMessage parses a TEXT message. A length byte larger than the
// body capacity is clamped to TextBufLen.
func ParseTextMessage(data []byte) (*TextMessage, error) {
	if err := checkHeader(data, TypeText, TextMessageSize); err != nil {
		return nil, err
	}

	n := min(int(data[2]), TextBufLen)
	text := make([]byte, n)
	copy(text, data[TextHeaderSize:TextHeaderSize+n])

	return &TextMessage{
		Node: data[1],
		Text: text,
	}, nil
}

// Length returns the number of valid body bytes as it goes on the wire.
func (m *TextMessage) Length() uint8 {
	return uint8(min(len(m.Text), TextBufLen))
}

func (m *TextMessage) Type() MessageType { return TypeText }

// Bytes returns the wire encoding of the message.
func (m *TextMessage) Bytes() []byte { return BuildTextMessage(m.Node, m.Text) }

func (m *TextMessage) MarshalBinary() ([]byte, error) { return m.Bytes(), nil }

// UnmarshalBinary decodes data into m. On error m is left unchanged.
func (m *TextMessage) UnmarshalBinary(data []byte) error {
	parsed, err := ParseTextMessage(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// Render returns the message as text. Only the valid part of the body is
// included.
func (m *TextMessage) Render(pretty bool) string {
	n := m.Length()
	body := string(m.Text[:n])
	if pretty {
		return fmt.Sprintf("type: %s, node: %d, length: %d, text: %s", TypeText, m.Node, n, body)
	}
	return fmt.Sprintf("%s, %d, %d, %s", TypeText, m.Node, n, body)
}

func (m *TextMessage) String() string { return m.Render(false) }
