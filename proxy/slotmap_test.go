package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inertFactory builds backends that never dial, for map bookkeeping
// tests.
func inertFactory(created *[]Address) func(Address) *BackendServer {
	return func(addr Address) *BackendServer {
		if created != nil {
			*created = append(*created, addr)
		}
		return &BackendServer{addr: addr}
	}
}

func TestSlotMapGetBySlot(t *testing.T) {
	var created []Address
	m := NewSlotMap(inertFactory(&created))
	a := Address{Host: "10.0.0.1", Port: 7000}
	b := Address{Host: "10.0.0.2", Port: 7001}
	m.SetMap([]SlotRange{{Upper: 5461, Addr: a}, {Upper: 16384, Addr: b}})

	assert.Equal(t, a, m.GetBySlot(0).Addr())
	assert.Equal(t, a, m.GetBySlot(5460).Addr())
	assert.Equal(t, b, m.GetBySlot(5461).Addr())
	assert.Equal(t, b, m.GetBySlot(16383).Addr())

	// backends come up lazily, once per address
	assert.Equal(t, []Address{a, b}, created)
	m.GetBySlot(1)
	assert.Len(t, created, 2)
}

func TestSlotMapUncovered(t *testing.T) {
	m := NewSlotMap(inertFactory(nil))
	assert.False(t, m.AllCovered())
	assert.Nil(t, m.GetBySlot(0))

	_, ok := m.RandomAddr()
	assert.False(t, ok)

	a := Address{Host: "10.0.0.1", Port: 7000}
	m.SetMap([]SlotRange{{Upper: 100, Addr: a}})
	assert.False(t, m.AllCovered())
	assert.Nil(t, m.GetBySlot(100))
	assert.NotNil(t, m.GetBySlot(99))

	m.SetMap([]SlotRange{{Upper: 16384, Addr: a}})
	assert.True(t, m.AllCovered())
}

func TestSlotMapRandomAddr(t *testing.T) {
	m := NewSlotMap(inertFactory(nil))
	a := Address{Host: "10.0.0.1", Port: 7000}
	b := Address{Host: "10.0.0.2", Port: 7001}
	m.SetMap([]SlotRange{{Upper: 8192, Addr: a}, {Upper: 16384, Addr: b}})
	seen := map[Address]bool{}
	for i := 0; i < 200; i++ {
		addr, ok := m.RandomAddr()
		require.True(t, ok)
		seen[addr] = true
	}
	assert.True(t, seen[a])
	assert.True(t, seen[b])
}

func TestSlotMapSetMapCarryOver(t *testing.T) {
	m := NewSlotMap(inertFactory(nil))
	a := Address{Host: "10.0.0.1", Port: 7000}
	b := Address{Host: "10.0.0.2", Port: 7001}
	c := Address{Host: "10.0.0.3", Port: 7002}
	m.SetMap([]SlotRange{{Upper: 8192, Addr: a}, {Upper: 16384, Addr: b}})
	ba := m.GetBySlot(0)
	bb := m.GetBySlot(9000)

	// a keeps its backend, b is evicted, c is new
	removed := m.SetMap([]SlotRange{{Upper: 8192, Addr: a}, {Upper: 16384, Addr: c}})
	require.Len(t, removed, 1)
	assert.Same(t, bb, removed[0])
	assert.Same(t, ba, m.GetBySlot(0))
	assert.NotNil(t, m.GetBySlot(9000))
	assert.NotSame(t, bb, m.GetBySlot(9000))
}

func TestSlotMapErase(t *testing.T) {
	m := NewSlotMap(inertFactory(nil))
	a := Address{Host: "10.0.0.1", Port: 7000}
	m.SetMap([]SlotRange{{Upper: 16384, Addr: a}})
	ba := m.GetBySlot(0)
	m.Erase(ba)

	// ranges untouched: the next lookup builds a fresh backend
	assert.True(t, m.AllCovered())
	bb := m.GetBySlot(0)
	require.NotNil(t, bb)
	assert.NotSame(t, ba, bb)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("10.4.17.164:7704")
	require.NoError(t, err)
	assert.Equal(t, Address{Host: "10.4.17.164", Port: 7704}, addr)

	addr, err = ParseAddress("10.4.17.164:7704@17704")
	require.NoError(t, err)
	assert.Equal(t, Address{Host: "10.4.17.164", Port: 7704}, addr)
	assert.Equal(t, "10.4.17.164:7704", addr.String())

	_, err = ParseAddress("nonsense")
	assert.Error(t, err)
}
