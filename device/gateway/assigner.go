package gateway

import (
	"errors"
	"sync"
)

const (
	// MinNode is the lowest assignable node number. Zero marks a leaf that
	// has not joined.
	MinNode = 1
	// MaxNode is the highest assignable node number.
	MaxNode = 254
)

// ErrNoFreeNodes is returned when every node number is taken.
var ErrNoFreeNodes = errors.New("no free node numbers")

// Assigner hands out node numbers to joining leaves.
type Assigner interface {
	// Assign returns the node number for devEUI, allocating one if the
	// device has not joined before. A device that joins again gets the
	// same number.
	Assign(devEUI uint64) (uint8, error)
}

// MemoryAssigner is an in-memory Assigner. Assignments are lost on restart.
type MemoryAssigner struct {
	mu     sync.Mutex
	byEUI  map[uint64]uint8
	owners [MaxNode + 1]uint64
	taken  [MaxNode + 1]bool
}

// Compile-time interface check.
var _ Assigner = (*MemoryAssigner)(nil)

// NewMemoryAssigner creates an empty MemoryAssigner.
func NewMemoryAssigner() *MemoryAssigner {
	return &MemoryAssigner{byEUI: make(map[uint64]uint8)}
}

// Assign returns the existing node for devEUI or the lowest free one.
func (a *MemoryAssigner) Assign(devEUI uint64) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if node, ok := a.byEUI[devEUI]; ok {
		return node, nil
	}
	for n := MinNode; n <= MaxNode; n++ {
		if !a.taken[n] {
			a.taken[n] = true
			a.owners[n] = devEUI
			a.byEUI[devEUI] = uint8(n)
			return uint8(n), nil
		}
	}
	return 0, ErrNoFreeNodes
}

// Lookup returns the node assigned to devEUI, if any.
func (a *MemoryAssigner) Lookup(devEUI uint64) (uint8, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	node, ok := a.byEUI[devEUI]
	return node, ok
}

// Owner returns the EUI that holds node, if any.
func (a *MemoryAssigner) Owner(node uint8) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if node < MinNode || node > MaxNode || !a.taken[node] {
		return 0, false
	}
	return a.owners[node], true
}

// Release frees the node held by devEUI.
func (a *MemoryAssigner) Release(devEUI uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	node, ok := a.byEUI[devEUI]
	if !ok {
		return
	}
	delete(a.byEUI, devEUI)
	a.taken[node] = false
	a.owners[node] = 0
}

// Len returns the number of assigned nodes.
func (a *MemoryAssigner) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byEUI)
}
