package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Serial framing used between the gateway host and its radio bridge. Each
// frame carries exactly one message:
//
//	[magic 0xC03E (2, BE)][length (2, BE)][message (length)][fletcher16 (2, BE)]
//
// The checksum protects the serial hop only. Messages themselves carry no
// integrity field.
const (
	// FrameMagic starts every serial frame.
	FrameMagic uint16 = 0xC03E
	// MaxFramePayload is the largest message a frame may carry.
	MaxFramePayload = MaxMessageLen
	// FrameHeaderSize is magic + length.
	FrameHeaderSize = 4
	// FrameChecksumSize is the trailing Fletcher-16 checksum.
	FrameChecksumSize = 2
	// MinFrameSize is the size of a frame with an empty body.
	MinFrameSize = FrameHeaderSize + FrameChecksumSize
)

var (
	ErrFrameTooShort    = errors.New("frame too short")
	ErrInvalidMagic     = errors.New("invalid frame magic")
	ErrFrameTooLarge    = errors.New("frame payload exceeds maximum message length")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	ErrIncompleteFrame  = errors.New("incomplete frame")
)

// DecodeFrame extracts the first frame from data. It returns the message the
// frame carries and the bytes following the frame. On error the returned
// remainder is data itself so callers can wait for more bytes or resync.
func DecodeFrame(data []byte) ([]byte, []byte, error) {
	if len(data) < MinFrameSize {
		return nil, data, ErrFrameTooShort
	}

	if binary.BigEndian.Uint16(data[0:2]) != FrameMagic {
		return nil, data, ErrInvalidMagic
	}

	msgLen := int(binary.BigEndian.Uint16(data[2:4]))
	if msgLen > MaxFramePayload {
		return nil, data, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
	}

	total := FrameHeaderSize + msgLen + FrameChecksumSize
	if len(data) < total {
		return nil, data, ErrIncompleteFrame
	}

	body := data[FrameHeaderSize : FrameHeaderSize+msgLen]
	received := binary.BigEndian.Uint16(data[FrameHeaderSize+msgLen : total])
	if !ValidateChecksum(body, received) {
		return nil, data, fmt.Errorf("%w: expected %04x, got %04x",
			ErrChecksumMismatch, Fletcher16(body), received)
	}

	msg := make([]byte, msgLen)
	copy(msg, body)
	return msg, data[total:], nil
}

// EncodeFrame wraps a message in a serial frame.
func EncodeFrame(msg []byte) ([]byte, error) {
	if len(msg) > MaxFramePayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msg))
	}

	frame := make([]byte, FrameHeaderSize+len(msg)+FrameChecksumSize)
	binary.BigEndian.PutUint16(frame[0:2], FrameMagic)
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(msg)))
	copy(frame[FrameHeaderSize:], msg)
	binary.BigEndian.PutUint16(frame[FrameHeaderSize+len(msg):], Fletcher16(msg))
	return frame, nil
}
