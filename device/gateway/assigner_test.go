package gateway

import (
	"errors"
	"testing"
)

func TestMemoryAssigner_Sequential(t *testing.T) {
	a := NewMemoryAssigner()
	for i, eui := range []uint64{100, 200, 300} {
		node, err := a.Assign(eui)
		if err != nil {
			t.Fatal(err)
		}
		if want := uint8(i + 1); node != want {
			t.Errorf("Assign(%d) = %d, want %d", eui, node, want)
		}
	}
	if a.Len() != 3 {
		t.Errorf("Len() = %d, want 3", a.Len())
	}
}

func TestMemoryAssigner_Stable(t *testing.T) {
	a := NewMemoryAssigner()
	first, _ := a.Assign(42)
	a.Assign(43)
	again, _ := a.Assign(42)
	if first != again {
		t.Errorf("rejoin got %d, want %d", again, first)
	}
	if node, ok := a.Lookup(42); !ok || node != first {
		t.Errorf("Lookup(42) = %d, %v", node, ok)
	}
	if eui, ok := a.Owner(first); !ok || eui != 42 {
		t.Errorf("Owner(%d) = %d, %v", first, eui, ok)
	}
}

func TestMemoryAssigner_Exhausted(t *testing.T) {
	a := NewMemoryAssigner()
	for eui := uint64(0); eui < MaxNode; eui++ {
		if _, err := a.Assign(eui); err != nil {
			t.Fatalf("Assign(%d) error = %v", eui, err)
		}
	}
	if _, err := a.Assign(9999); !errors.Is(err, ErrNoFreeNodes) {
		t.Errorf("expected ErrNoFreeNodes, got %v", err)
	}
	// Existing devices still resolve.
	if node, err := a.Assign(0); err != nil || node != MinNode {
		t.Errorf("Assign(0) = %d, %v", node, err)
	}
}

func TestMemoryAssigner_Release(t *testing.T) {
	a := NewMemoryAssigner()
	a.Assign(1)
	a.Assign(2)
	a.Release(1)
	a.Release(77) // unknown

	if _, ok := a.Lookup(1); ok {
		t.Error("released EUI still assigned")
	}
	if _, ok := a.Owner(1); ok {
		t.Error("released node still owned")
	}
	node, _ := a.Assign(3)
	if node != 1 {
		t.Errorf("expected freed node 1 to be reused, got %d", node)
	}
}

func TestMemoryAssigner_OwnerOutOfRange(t *testing.T) {
	a := NewMemoryAssigner()
	for _, n := range []uint8{0, 255} {
		if _, ok := a.Owner(n); ok {
			t.Errorf("Owner(%d) should be empty", n)
		}
	}
}
