package relay

import (
	"errors"
	"fmt"
	"net"
)

// Connection table errors
var (
	// ErrCapacity indicates every slot is occupied
	ErrCapacity = errors.New("relay at capacity")

	// ErrRejected indicates a connection that could not be admitted
	ErrRejected = errors.New("connection rejected")

	// ErrSlotEmpty indicates an operation on a slot with no connection
	ErrSlotEmpty = errors.New("slot is empty")

	// ErrSlotIndex indicates a slot index outside the table
	ErrSlotIndex = errors.New("slot index out of range")
)

// Slot is one entry of the connection table.
// Connected is false exactly when Conn is nil.
type Slot struct {
	Connected bool
	Label     string
	Conn      net.Conn

	// Generation changes on every admit so events from a previous
	// occupant of the same index can be told apart.
	Generation uint64
}

// Table is a fixed-capacity arena of slots. It is not safe for concurrent
// use; the relay coordinator is its only user.
type Table struct {
	slots        []Slot
	count        int
	defaultLabel string
}

// NewTable allocates capacity empty slots labelled defaultLabel.
func NewTable(capacity int, defaultLabel string) *Table {
	if capacity < 0 {
		capacity = 0
	}
	t := &Table{
		slots:        make([]Slot, capacity),
		defaultLabel: defaultLabel,
	}
	for i := range t.slots {
		t.slots[i].Label = defaultLabel
	}
	return t
}

// Admit places conn in the lowest free slot and returns its index.
func (t *Table) Admit(conn net.Conn) (int, error) {
	if conn == nil {
		return -1, fmt.Errorf("%w: nil connection", ErrRejected)
	}
	if t.count == len(t.slots) {
		return -1, ErrCapacity
	}

	for i := range t.slots {
		slot := &t.slots[i]
		if slot.Connected {
			continue
		}
		slot.Connected = true
		slot.Conn = conn
		slot.Label = t.defaultLabel
		slot.Generation++
		t.count++
		return i, nil
	}

	// count and slots disagree
	return -1, ErrCapacity
}

// Evict empties slot index and returns its connection for the caller to
// close. Evicting an empty slot returns ErrSlotEmpty.
func (t *Table) Evict(index int) (net.Conn, error) {
	if index < 0 || index >= len(t.slots) {
		return nil, fmt.Errorf("%w: %d", ErrSlotIndex, index)
	}

	slot := &t.slots[index]
	if !slot.Connected {
		return nil, fmt.Errorf("%w: %d", ErrSlotEmpty, index)
	}

	conn := slot.Conn
	slot.Connected = false
	slot.Conn = nil
	slot.Label = t.defaultLabel
	t.count--

	return conn, nil
}

// Slot returns a copy of slot index.
func (t *Table) Slot(index int) (Slot, error) {
	if index < 0 || index >= len(t.slots) {
		return Slot{}, fmt.Errorf("%w: %d", ErrSlotIndex, index)
	}
	return t.slots[index], nil
}

// Connected reports whether slot index holds a connection.
func (t *Table) Connected(index int) bool {
	if index < 0 || index >= len(t.slots) {
		return false
	}
	return t.slots[index].Connected
}

// Count returns the number of occupied slots.
func (t *Table) Count() int {
	return t.count
}

// Capacity returns the number of slots.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Full reports whether every slot is occupied.
func (t *Table) Full() bool {
	return t.count == len(t.slots)
}
