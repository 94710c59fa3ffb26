// Package transport provides transport interfaces and implementations for
// moving raw sensor network messages between leaf radios and gateways.
//
// Transports carry opaque message buffers. Decoding is left to the caller,
// which reads the tag with codec.GetMessageType or codec.Decode.
package transport

import (
	"context"
)

// Transport is the base interface for all transport implementations.
type Transport interface {
	// Start begins the transport's connection and message handling.
	// The provided context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected returns true if the transport is currently connected.
	IsConnected() bool
	// SetMessageHandler sets the callback for incoming messages.
	SetMessageHandler(fn MessageHandler)
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)
	// SendMessage transmits one encoded message.
	SendMessage(data []byte) error
}

// MessageHandler is called with each received message. The buffer is owned
// by the handler.
type MessageHandler func(data []byte, source Source)

// StateHandler is called when the transport state changes.
type StateHandler func(transport Transport, event Event)

// Event represents transport state change events.
type Event int

const (
	// EventConnected is fired when the transport connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventReconnecting is fired when the transport is attempting to reconnect.
	EventReconnecting
	// EventError is fired when an error occurs.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Source indicates where a message came from.
type Source int

const (
	// SourceSerial indicates the message came from the serial radio bridge.
	SourceSerial Source = iota
	// SourceMQTT indicates the message came from MQTT.
	SourceMQTT
	// SourceNATS indicates the message came from NATS.
	SourceNATS
	// SourceLocal indicates the message was originated by this node (TX).
	SourceLocal
)

func (s Source) String() string {
	switch s {
	case SourceSerial:
		return "serial"
	case SourceMQTT:
		return "mqtt"
	case SourceNATS:
		return "nats"
	case SourceLocal:
		return "local"
	default:
		return "unknown"
	}
}
