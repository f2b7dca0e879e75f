package hardware

import (
	"sync"
	"time"
)

// SimBus is an in-memory locker bank for development machines without the
// cabinet attached. An open command marks the slot open; after settleAfter
// elapses the slot reads closed again, as if the user shut the door.
type SimBus struct {
	mu          sync.Mutex
	openSince   map[uint8]map[uint8]time.Time
	settleAfter time.Duration
}

// NewSimBus creates a simulated bus whose doors "close" after the given
// settle delay.
func NewSimBus(settleAfter time.Duration) *SimBus {
	return &SimBus{
		openSince:   make(map[uint8]map[uint8]time.Time),
		settleAfter: settleAfter,
	}
}

// WriteByte records an open command for the addressed slot.
func (b *SimBus) WriteByte(addr uint8, value uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openSince[addr] == nil {
		b.openSince[addr] = make(map[uint8]time.Time)
	}
	b.openSince[addr][value] = time.Now()
	return nil
}

// ReadByte reports the module status byte derived from the simulated doors.
func (b *SimBus) ReadByte(addr uint8) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slotOpen := func(slot uint8) bool {
		since, ok := b.openSince[addr][slot]
		if !ok {
			return false
		}
		if time.Since(since) >= b.settleAfter {
			delete(b.openSince[addr], slot)
			return false
		}
		return true
	}

	aOpen, bOpen := slotOpen(1), slotOpen(2)
	switch {
	case !aOpen && !bOpen:
		return statusBothClosed, nil
	case !aOpen:
		return statusSlotAClosed, nil
	case !bOpen:
		return statusSlotBClosed, nil
	default:
		return 0, nil
	}
}

// SimCardReader replays queued card uids, one per call.
type SimCardReader struct {
	mu   sync.Mutex
	uids []string
}

// QueueCard schedules a card uid for the next read.
func (r *SimCardReader) QueueCard(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uids = append(r.uids, uid)
}

// ReadUID pops the next queued uid, or returns empty after the timeout
// window would have elapsed.
func (r *SimCardReader) ReadUID(timeout time.Duration) (string, error) {
	r.mu.Lock()
	if len(r.uids) > 0 {
		uid := r.uids[0]
		r.uids = r.uids[1:]
		r.mu.Unlock()
		return uid, nil
	}
	r.mu.Unlock()
	time.Sleep(timeout)
	return "", nil
}

// SimKeypad replays queued key presses.
type SimKeypad struct {
	mu   sync.Mutex
	keys []rune
}

// Press queues a key.
func (k *SimKeypad) Press(key rune) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, key)
}

// PressedKeys pops at most one queued key.
func (k *SimKeypad) PressedKeys() []rune {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.keys) == 0 {
		return nil
	}
	key := k.keys[0]
	k.keys = k.keys[1:]
	return []rune{key}
}
