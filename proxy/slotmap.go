package proxy

import (
	"math/rand"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Address identifies one cluster node.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAddress splits a host:port pair; a trailing @cport suffix, as
// CLUSTER NODES emits since redis 4, is stripped.
func ParseAddress(s string) (Address, error) {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, err
	}
	return Address{Host: host, Port: port}, nil
}

// SlotRange assigns the slots in [previous upper, Upper-1] to Addr (the
// first range starts at slot 0); the Upper bounds are exclusive,
// produced as last-owned-slot+1.
type SlotRange struct {
	Upper int
	Addr  Address
}

// SlotMap maps slots to backend connections. The range list is kept
// sorted by upper bound; backends are constructed lazily through the
// factory the first time a slot (or redirect) routes to their address.
type SlotMap struct {
	ranges   []SlotRange
	backends map[Address]*BackendServer
	factory  func(Address) *BackendServer
}

func NewSlotMap(factory func(Address) *BackendServer) *SlotMap {
	return &SlotMap{
		backends: make(map[Address]*BackendServer),
		factory:  factory,
	}
}

// GetBySlot finds the backend owning slot s, or nil when the map does
// not cover it.
func (m *SlotMap) GetBySlot(s int) *BackendServer {
	i := sort.Search(len(m.ranges), func(i int) bool {
		return m.ranges[i].Upper > s
	})
	if i == len(m.ranges) {
		return nil
	}
	return m.GetByAddr(m.ranges[i].Addr)
}

// GetByAddr returns the backend for addr, constructing one if needed.
func (m *SlotMap) GetByAddr(addr Address) *BackendServer {
	if b, ok := m.backends[addr]; ok {
		return b
	}
	b := m.factory(addr)
	m.backends[addr] = b
	return b
}

// RandomAddr samples a covered address uniformly by slot share. ok is
// false when the map is empty.
func (m *SlotMap) RandomAddr() (Address, bool) {
	if len(m.ranges) == 0 {
		return Address{}, false
	}
	for {
		s := rand.Intn(NumSlots)
		i := sort.Search(len(m.ranges), func(i int) bool {
			return m.ranges[i].Upper > s
		})
		if i < len(m.ranges) {
			return m.ranges[i].Addr, true
		}
	}
}

// AllCovered reports whether the ranges reach the end of the keyspace.
func (m *SlotMap) AllCovered() bool {
	n := len(m.ranges)
	return n > 0 && m.ranges[n-1].Upper == NumSlots
}

// SetMap atomically replaces the slot ranges. Backends whose address is
// still referenced carry over untouched; the rest are returned for the
// caller to close.
func (m *SlotMap) SetMap(ranges []SlotRange) []*BackendServer {
	kept := make(map[Address]*BackendServer)
	for _, r := range ranges {
		if b, ok := m.backends[r.Addr]; ok {
			kept[r.Addr] = b
			delete(m.backends, r.Addr)
		}
	}
	var removed []*BackendServer
	for _, b := range m.backends {
		removed = append(removed, b)
	}
	m.backends = kept
	m.ranges = ranges
	return removed
}

// Erase drops a backend by identity without touching the slot ranges,
// for backends whose socket has died.
func (m *SlotMap) Erase(b *BackendServer) {
	for addr, v := range m.backends {
		if v == b {
			delete(m.backends, addr)
		}
	}
}
