package gateway

import (
	"sync"
	"time"

	"github.com/kabili207/sensornet-go/transport"
)

// SendQueue is a priority-ordered outbound message queue.
// Lower priority numbers are dequeued first. Items with a future readyAt
// time are held until that time has passed.
type SendQueue struct {
	mu    sync.Mutex
	items []queueItem
	now   func() time.Time
}

type queueItem struct {
	entry    QueueEntry
	priority uint8
	readyAt  time.Time
}

// QueueEntry is a message waiting to be sent.
type QueueEntry struct {
	Data []byte
	// Dest selects the transports the message is sent on.
	Dest transport.Source
	// SendToAll sends on every transport and ignores Dest.
	SendToAll bool
}

// NewSendQueue creates an empty send queue.
func NewSendQueue() *SendQueue {
	return &SendQueue{now: time.Now}
}

// Push adds a message to the queue with the given priority and delay.
// Priority 0 is highest. The message will not be returned by Pop until
// the delay has elapsed.
func (q *SendQueue) Push(entry QueueEntry, priority uint8, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queueItem{
		entry:    entry,
		priority: priority,
		readyAt:  q.now().Add(delay),
	})
}

// Pop returns the highest-priority ready entry. The second result is false
// if nothing is ready. Among items with equal priority, the earliest-inserted
// item is returned.
func (q *SendQueue) Pop() (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	bestIdx := -1
	var bestPri uint8

	for i, item := range q.items {
		if now.Before(item.readyAt) {
			continue
		}
		if bestIdx == -1 || item.priority < bestPri {
			bestIdx = i
			bestPri = item.priority
		}
	}

	if bestIdx == -1 {
		return QueueEntry{}, false
	}

	entry := q.items[bestIdx].entry
	q.items = append(q.items[:bestIdx], q.items[bestIdx+1:]...)
	return entry, true
}

// Len returns the total number of items in the queue (ready or not).
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
