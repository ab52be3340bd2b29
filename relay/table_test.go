package relay

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a
}

func TestNewTable(t *testing.T) {
	table := NewTable(4, "user")

	assert.Equal(t, 4, table.Capacity())
	assert.Equal(t, 0, table.Count())
	assert.False(t, table.Full())

	for i := 0; i < table.Capacity(); i++ {
		slot, err := table.Slot(i)
		require.NoError(t, err)
		assert.False(t, slot.Connected)
		assert.Nil(t, slot.Conn)
		assert.Equal(t, "user", slot.Label)
	}
}

func TestTableAdmitUntilFull(t *testing.T) {
	const capacity = 3
	table := NewTable(capacity, "user")

	for i := 0; i < capacity; i++ {
		index, err := table.Admit(pipeConn(t))
		require.NoError(t, err)
		assert.Equal(t, i, index, "admit fills the lowest free slot")
		assert.Equal(t, i+1, table.Count())
	}
	assert.True(t, table.Full())

	index, err := table.Admit(pipeConn(t))
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, -1, index)
	assert.Equal(t, capacity, table.Count())
}

func TestTableEvictFreesSlot(t *testing.T) {
	table := NewTable(3, "user")
	conns := make([]net.Conn, 3)
	for i := range conns {
		conns[i] = pipeConn(t)
		_, err := table.Admit(conns[i])
		require.NoError(t, err)
	}

	conn, err := table.Evict(1)
	require.NoError(t, err)
	assert.Same(t, conns[1], conn)
	assert.Equal(t, 2, table.Count())
	assert.False(t, table.Connected(1))

	slot, err := table.Slot(1)
	require.NoError(t, err)
	assert.Nil(t, slot.Conn)
	assert.Equal(t, "user", slot.Label)

	index, err := table.Admit(pipeConn(t))
	require.NoError(t, err)
	assert.Equal(t, 1, index, "freed slot is reused")
	assert.Equal(t, 3, table.Count())
}

func TestTableEvictErrors(t *testing.T) {
	table := NewTable(2, "user")
	_, err := table.Admit(pipeConn(t))
	require.NoError(t, err)

	tests := []struct {
		name  string
		index int
		want  error
	}{
		{"empty slot", 1, ErrSlotEmpty},
		{"negative index", -1, ErrSlotIndex},
		{"past the end", 2, ErrSlotIndex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := table.Evict(tt.index)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, conn)
			assert.Equal(t, 1, table.Count())
		})
	}

	_, err = table.Evict(0)
	require.NoError(t, err)
	_, err = table.Evict(0)
	assert.ErrorIs(t, err, ErrSlotEmpty, "double evict is rejected")
	assert.Equal(t, 0, table.Count())
}

func TestTableAdmitNil(t *testing.T) {
	table := NewTable(1, "user")
	_, err := table.Admit(nil)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 0, table.Count())
}

func TestTableGenerationAdvances(t *testing.T) {
	table := NewTable(1, "user")

	_, err := table.Admit(pipeConn(t))
	require.NoError(t, err)
	first, _ := table.Slot(0)

	_, err = table.Evict(0)
	require.NoError(t, err)
	evicted, _ := table.Slot(0)
	assert.Equal(t, first.Generation, evicted.Generation, "evict keeps the generation")

	_, err = table.Admit(pipeConn(t))
	require.NoError(t, err)
	second, _ := table.Slot(0)
	assert.Greater(t, second.Generation, first.Generation)
}

func TestTableCountMatchesConnectedSlots(t *testing.T) {
	table := NewTable(5, "user")
	ops := []struct {
		admit bool
		index int
	}{
		{true, 0}, {true, 0}, {true, 0}, {false, 1}, {true, 0}, {false, 0}, {false, 3}, {true, 0},
	}

	for _, op := range ops {
		if op.admit {
			_, _ = table.Admit(pipeConn(t))
		} else {
			_, _ = table.Evict(op.index)
		}

		connected := 0
		for i := 0; i < table.Capacity(); i++ {
			slot, _ := table.Slot(i)
			assert.Equal(t, slot.Connected, slot.Conn != nil)
			if slot.Connected {
				connected++
			}
		}
		assert.Equal(t, connected, table.Count())
	}
}

func TestSlotOutOfRange(t *testing.T) {
	table := NewTable(1, "user")
	_, err := table.Slot(1)
	assert.ErrorIs(t, err, ErrSlotIndex)
	assert.False(t, table.Connected(-1))
}
