package gateway

import "sync/atomic"

// Counters tracks gateway traffic statistics using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	MessagesRecv  atomic.Uint32 // Raw messages handed to the gateway
	MessagesSent  atomic.Uint32 // Messages written to a transport
	Duplicates    atomic.Uint32 // Messages dropped as already seen
	Malformed     atomic.Uint32 // Messages that failed to decode
	JoinsAccepted atomic.Uint32
	JoinsRejected atomic.Uint32 // Join requests the assigner refused
	TimeRequests  atomic.Uint32
	DataMessages  atomic.Uint32
	TextMessages  atomic.Uint32
	SendErrors    atomic.Uint32
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	MessagesRecv  uint32
	MessagesSent  uint32
	Duplicates    uint32
	Malformed     uint32
	JoinsAccepted uint32
	JoinsRejected uint32
	TimeRequests  uint32
	DataMessages  uint32
	TextMessages  uint32
	SendErrors    uint32
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		MessagesRecv:  c.MessagesRecv.Load(),
		MessagesSent:  c.MessagesSent.Load(),
		Duplicates:    c.Duplicates.Load(),
		Malformed:     c.Malformed.Load(),
		JoinsAccepted: c.JoinsAccepted.Load(),
		JoinsRejected: c.JoinsRejected.Load(),
		TimeRequests:  c.TimeRequests.Load(),
		DataMessages:  c.DataMessages.Load(),
		TextMessages:  c.TextMessages.Load(),
		SendErrors:    c.SendErrors.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.MessagesRecv.Store(0)
	c.MessagesSent.Store(0)
	c.Duplicates.Store(0)
	c.Malformed.Store(0)
	c.JoinsAccepted.Store(0)
	c.JoinsRejected.Store(0)
	c.TimeRequests.Store(0)
	c.DataMessages.Store(0)
	c.TextMessages.Store(0)
	c.SendErrors.Store(0)
}
