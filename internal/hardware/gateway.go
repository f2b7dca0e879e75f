package hardware

import (
	"fmt"
	"log"
	"sync"

	"smart-locker-backend/config"
)

// LatchState is the tri-state result of reading a locker's latch sensor.
type LatchState int

const (
	// LatchOpen means the door is open or not yet secured.
	LatchOpen LatchState = iota
	// LatchClosed means the door is confirmed secured.
	LatchClosed
	// LatchFault means the controller reported a jam for this slot. The
	// session owning the locker must be abandoned; real state is unknowable.
	LatchFault
)

// Status byte encoding of the slot controllers. Value 9 means both slots of
// a module are closed.
const (
	statusSlotAClosed = 4
	statusSlotBClosed = 5
	statusBothClosed  = 9
	statusSlotAFault  = 20
	statusSlotBFault  = 21
)

// Slot identifies one locker's position on the bus: the shared module
// address plus the slot command byte (1 opens side A, 2 opens side B).
type Slot struct {
	Code    string
	Address uint8
	Command uint8
	ID      int64
}

// Gateway owns the locker bank map and serializes every bus transaction.
// Both the booking path (open command) and the monitor (status read) go
// through it, so under contention reads and writes queue behind each other.
type Gateway struct {
	mu    sync.Mutex
	bus   Bus
	slots map[string]Slot
}

// NewGateway builds a gateway from the configured locker bank.
func NewGateway(bus Bus, lockers []config.LockerSlot) *Gateway {
	slots := make(map[string]Slot, len(lockers))
	for _, l := range lockers {
		slots[l.Code] = Slot{
			Code:    l.Code,
			Address: l.Address,
			Command: l.Slot,
			ID:      l.ID,
		}
	}
	return &Gateway{bus: bus, slots: slots}
}

// Slot resolves a locker code to its bus slot.
func (g *Gateway) Slot(code string) (Slot, bool) {
	s, ok := g.slots[code]
	return s, ok
}

// Open commands the locker's latch to release.
func (g *Gateway) Open(code string) error {
	slot, ok := g.slots[code]
	if !ok {
		return fmt.Errorf("unknown locker code %q", code)
	}
	log.Printf("bus: sending open command %d to address %#02x (%s)", slot.Command, slot.Address, code)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.bus.WriteByte(slot.Address, slot.Command); err != nil {
		return fmt.Errorf("failed to open locker %s: %w", code, err)
	}
	return nil
}

// ReadLatch reads and decodes the latch sensor state for a locker.
func (g *Gateway) ReadLatch(code string) (LatchState, error) {
	slot, ok := g.slots[code]
	if !ok {
		return LatchOpen, fmt.Errorf("unknown locker code %q", code)
	}

	g.mu.Lock()
	raw, err := g.bus.ReadByte(slot.Address)
	g.mu.Unlock()
	if err != nil {
		return LatchOpen, fmt.Errorf("failed to read status of locker %s: %w", code, err)
	}

	return decodeStatus(slot.Command, raw), nil
}

// decodeStatus interprets a module status byte for one slot. Any value
// outside the defined closed/fault encoding means the slot is open.
func decodeStatus(command uint8, raw uint8) LatchState {
	switch command {
	case 1:
		if raw == statusSlotAFault {
			return LatchFault
		}
		if raw == statusSlotAClosed || raw == statusBothClosed {
			return LatchClosed
		}
	case 2:
		if raw == statusSlotBFault {
			return LatchFault
		}
		if raw == statusSlotBClosed || raw == statusBothClosed {
			return LatchClosed
		}
	}
	return LatchOpen
}
