package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-locker-backend/config"
)

// scriptedBus returns canned status bytes and records writes.
type scriptedBus struct {
	status map[uint8]uint8
	reads  int
	writes []struct{ addr, value uint8 }
	err    error
}

func (b *scriptedBus) ReadByte(addr uint8) (uint8, error) {
	b.reads++
	if b.err != nil {
		return 0, b.err
	}
	return b.status[addr], nil
}

func (b *scriptedBus) WriteByte(addr uint8, value uint8) error {
	if b.err != nil {
		return b.err
	}
	b.writes = append(b.writes, struct{ addr, value uint8 }{addr, value})
	return nil
}

func testBank() []config.LockerSlot {
	return []config.LockerSlot{
		{Code: "A1", Address: 0x08, Slot: 1, ID: 1},
		{Code: "B1", Address: 0x08, Slot: 2, ID: 2},
	}
}

func TestDecodeStatus(t *testing.T) {
	cases := []struct {
		name    string
		command uint8
		raw     uint8
		want    LatchState
	}{
		{"slot A closed", 1, 4, LatchClosed},
		{"both closed reads closed for A", 1, 9, LatchClosed},
		{"slot A fault", 1, 20, LatchFault},
		{"slot A open on B-closed byte", 1, 5, LatchOpen},
		{"slot A open on zero", 1, 0, LatchOpen},
		{"slot A open on B fault byte", 1, 21, LatchOpen},
		{"slot B closed", 2, 5, LatchClosed},
		{"both closed reads closed for B", 2, 9, LatchClosed},
		{"slot B fault", 2, 21, LatchFault},
		{"slot B open on A-closed byte", 2, 4, LatchOpen},
		{"slot B open on garbage", 2, 77, LatchOpen},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, decodeStatus(tc.command, tc.raw))
		})
	}
}

func TestGateway_Open(t *testing.T) {
	bus := &scriptedBus{status: map[uint8]uint8{}}
	gw := NewGateway(bus, testBank())

	require.NoError(t, gw.Open("B1"))
	require.Len(t, bus.writes, 1)
	assert.Equal(t, uint8(0x08), bus.writes[0].addr)
	assert.Equal(t, uint8(2), bus.writes[0].value)

	err := gw.Open("Z9")
	assert.Error(t, err)
	assert.Len(t, bus.writes, 1)
}

func TestGateway_ReadLatch(t *testing.T) {
	bus := &scriptedBus{status: map[uint8]uint8{0x08: 9}}
	gw := NewGateway(bus, testBank())

	state, err := gw.ReadLatch("A1")
	require.NoError(t, err)
	assert.Equal(t, LatchClosed, state)

	state, err = gw.ReadLatch("B1")
	require.NoError(t, err)
	assert.Equal(t, LatchClosed, state)

	bus.status[0x08] = 20
	state, err = gw.ReadLatch("A1")
	require.NoError(t, err)
	assert.Equal(t, LatchFault, state)

	_, err = gw.ReadLatch("Z9")
	assert.Error(t, err)
}

func TestGateway_ReadLatch_BusError(t *testing.T) {
	bus := &scriptedBus{err: errors.New("bus stuck")}
	gw := NewGateway(bus, testBank())

	_, err := gw.ReadLatch("A1")
	assert.Error(t, err)
}
