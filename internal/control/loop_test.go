package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"smart-locker-backend/config"
	"smart-locker-backend/internal/booking"
	"smart-locker-backend/internal/display"
	"smart-locker-backend/internal/hardware"
	"smart-locker-backend/internal/model"
	"smart-locker-backend/internal/notification"
	"smart-locker-backend/internal/pairing"
	"smart-locker-backend/internal/session"
	"smart-locker-backend/internal/store"
)

type dropDispatcher struct{}

func (dropDispatcher) Dispatch(event notification.Event) {}

// brokenPairingStore fails every call, standing in for an unreachable
// coordination backend.
type brokenPairingStore struct{}

var errDown = errors.New("backend down")

func (brokenPairingStore) ActiveTarget(ctx context.Context) (int64, bool, error) {
	return 0, false, errDown
}
func (brokenPairingStore) Phase(ctx context.Context) (pairing.Phase, error) { return "", errDown }
func (brokenPairingStore) SetPhase(ctx context.Context, phase pairing.Phase, ttl time.Duration) error {
	return errDown
}
func (brokenPairingStore) TempUID(ctx context.Context) (string, error) { return "", errDown }
func (brokenPairingStore) SetTempUID(ctx context.Context, uid string, ttl time.Duration) error {
	return errDown
}
func (brokenPairingStore) ExpectedOTP(ctx context.Context) (string, error) { return "", errDown }
func (brokenPairingStore) ClearActive(ctx context.Context) error           { return errDown }

// brokenReader fails every scan.
type brokenReader struct{}

func (brokenReader) ReadUID(timeout time.Duration) (string, error) {
	return "", errors.New("reader unplugged")
}

type recordingDevice struct {
	row0, row1 string
	writes     int
}

func (d *recordingDevice) WriteRows(row0, row1 string) error {
	d.row0, d.row1 = row0, row1
	d.writes++
	return nil
}

func (d *recordingDevice) Clear() error { return nil }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Locker{}, &model.UsageRecord{}, &model.PushSubscription{}))
	return db
}

type loopRig struct {
	loop     *Loop
	db       *gorm.DB
	registry *session.Registry
	reader   *hardware.SimCardReader
	pairing  pairing.Store
	device   *recordingDevice
}

func newLoopRig(t *testing.T) *loopRig {
	t.Helper()
	db := newTestDB(t)
	st := store.NewGormStore(db)

	cfg := &config.Config{}
	cfg.Pairing.OTPLength = 6
	cfg.Pairing.StepTTL = 2 * time.Minute
	cfg.Pairing.ResultTTL = 10 * time.Second
	cfg.Pairing.ErrorHold = 3 * time.Second
	cfg.Monitor.PairingTick = time.Millisecond
	cfg.Monitor.ErrorBackoff = time.Millisecond

	bank := []config.LockerSlot{
		{Code: "A1", Address: 0x08, Slot: 1, ID: 1},
		{Code: "B1", Address: 0x08, Slot: 2, ID: 2},
	}

	device := &recordingDevice{}
	screen := display.NewScreen(device, 16)
	reader := &hardware.SimCardReader{}
	keypad := &hardware.SimKeypad{}
	reg := session.NewRegistry()
	ps := pairing.NewMemoryStore()

	gw := hardware.NewGateway(hardware.NewSimBus(time.Minute), bank)
	bs := booking.NewService(st, reg, gw, screen, dropDispatcher{})
	machine := pairing.NewMachine(cfg, ps, st, reader, keypad, screen, bs, dropDispatcher{})

	loop := NewLoop(cfg, ps, machine, bs, reader, screen, st)
	loop.tapHold = 0

	return &loopRig{loop: loop, db: db, registry: reg, reader: reader, pairing: ps, device: device}
}

func seedRig(t *testing.T, db *gorm.DB) {
	t.Helper()
	uid := "04a1b2c3"
	require.NoError(t, db.Create(&model.User{ID: 7, Name: "Bob", CardUID: &uid}).Error)
	require.NoError(t, db.Create(&[]model.Locker{
		{ID: 1, LockerCode: "A1", Status: model.StatusAvailable},
		{ID: 2, LockerCode: "B1", Status: model.StatusAvailable},
	}).Error)
}

func TestTick_TapBooksLocker(t *testing.T) {
	rig := newLoopRig(t)
	seedRig(t, rig.db)

	rig.reader.QueueCard("04a1b2c3")
	require.NoError(t, rig.loop.Tick(context.Background()))

	sess, ok := rig.registry.Get("A1")
	require.True(t, ok)
	assert.Equal(t, session.KindBooking, sess.Kind)

	// After the hold the idle screen shows the remaining availability.
	assert.Contains(t, rig.device.row1, "Available: 1")
}

func TestTick_IdleRefreshOnEmptyScan(t *testing.T) {
	rig := newLoopRig(t)
	seedRig(t, rig.db)

	require.NoError(t, rig.loop.Tick(context.Background()))
	assert.Greater(t, rig.device.writes, 0)

	// Within the refresh window the screen is left alone.
	writes := rig.device.writes
	require.NoError(t, rig.loop.Tick(context.Background()))
	assert.Equal(t, writes, rig.device.writes)
}

func TestTick_ArmedPairingTakesTheReader(t *testing.T) {
	rig := newLoopRig(t)

	require.NoError(t, pairing.Arm(rig.pairing, 2, "123456", time.Minute))
	rig.reader.QueueCard("04newcafe")

	require.NoError(t, rig.loop.Tick(context.Background()))

	// The tap fed the pairing machine, not the booking path.
	assert.Equal(t, 0, rig.registry.Len())
	phase, err := rig.pairing.Phase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pairing.PhaseWaitingOTP, phase)
}

func TestTick_ErrorClasses(t *testing.T) {
	rig := newLoopRig(t)

	rig.loop.pairingStore = brokenPairingStore{}
	err := rig.loop.Tick(context.Background())
	assert.ErrorIs(t, err, ErrEphemeralStore)

	rig = newLoopRig(t)
	rig.loop.reader = brokenReader{}
	err = rig.loop.Tick(context.Background())
	assert.ErrorIs(t, err, ErrCardScan)
}

func TestRun_StopsOnCancel(t *testing.T) {
	rig := newLoopRig(t)
	seedRig(t, rig.db)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rig.loop.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("control loop did not stop after cancellation")
	}
}
