// Package rwnd talks to the kernel-side receive-window override map.
//
// The kernel program keys its overrides by TCP four-tuple. Installing a
// zero value throttles the flow (the peer sees a zero receive window);
// deleting the entry lets the flow transmit at its natural window. Absence
// of a key is equivalent to "no override".
package rwnd

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
)

const (
	// PinPath is the well-known pin location of the override map. The
	// kernel side must have been loaded and pinned here before any flow
	// can be scheduled.
	PinPath = "/sys/fs/bpf/flow_to_rwnd"

	// CongestionControl is the congestion-control algorithm every
	// scheduled connection must run. The kernel program recognizes only
	// flows using this scheme, so setting it is a precondition for the
	// window override to take effect.
	CongestionControl = "bpf_cubic"
)

// FlowKey identifies one TCP flow. Field order and widths mirror the
// kernel map's key struct exactly; addresses and ports are host byte
// order.
type FlowKey struct {
	LocalAddr  uint32
	RemoteAddr uint32
	LocalPort  uint16
	RemotePort uint16
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d",
		ipStr(k.LocalAddr), k.LocalPort, ipStr(k.RemoteAddr), k.RemotePort)
}

func ipStr(a uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// Map wraps the pinned override map.
type Map struct {
	m *ebpf.Map
}

// OpenPinned obtains a handle to the override map pinned at path.
func OpenPinned(path string) (*Map, error) {
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, fmt.Errorf("rwnd: opening pinned map %q: %w", path, err)
	}
	return &Map{m: m}, nil
}

// SetZero installs a zero-window override for k, throttling the flow.
func (m *Map) SetZero(k FlowKey) error {
	if err := m.m.Put(k, uint32(0)); err != nil {
		return fmt.Errorf("rwnd: setting zero window for %s: %w", k, err)
	}
	return nil
}

// Clear removes any override for k. Clearing a flow that has no override
// is a no-op, not an error.
func (m *Map) Clear(k FlowKey) error {
	err := m.m.Delete(k)
	if err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return fmt.Errorf("rwnd: clearing override for %s: %w", k, err)
	}
	return nil
}

// Close releases the map handle. Pinned state in the kernel is unaffected.
func (m *Map) Close() error {
	return m.m.Close()
}
