package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"smart-locker-backend/config"
	"smart-locker-backend/internal/booking"
	"smart-locker-backend/internal/display"
	"smart-locker-backend/internal/hardware"
	"smart-locker-backend/internal/pairing"
	"smart-locker-backend/internal/store"
)

// Sub-operation error classes. The loop never stops on any of them; they
// exist so callers and tests can tell apart what failed in an iteration.
var (
	ErrEphemeralStore = errors.New("ephemeral store unavailable")
	ErrCardScan       = errors.New("card scan failed")
	ErrBooking        = errors.New("booking failed")
	ErrPairing        = errors.New("pairing step failed")
)

// postTapHold is how long the locker-open screen stays up before the idle
// screen returns.
const postTapHold = 3 * time.Second

// idleRefresh is how often the idle screen's availability count is reread.
const idleRefresh = 10 * time.Second

// Loop is the main control loop of the cabinet. Each tick it either drives
// the pairing workflow (when the web side armed it) or scans for cards.
// The background monitor drains sessions independently of whichever mode
// this loop is in.
type Loop struct {
	pairingStore pairing.Store
	machine      *pairing.Machine
	booking      *booking.Service
	reader       hardware.CardReader
	screen       *display.Screen
	store        store.Store

	scanTimeout  time.Duration
	pairingTick  time.Duration
	errorBackoff time.Duration
	tapHold      time.Duration

	lastIdle time.Time
}

// NewLoop wires the control loop.
func NewLoop(cfg *config.Config, ps pairing.Store, m *pairing.Machine, b *booking.Service, reader hardware.CardReader, screen *display.Screen, st store.Store) *Loop {
	return &Loop{
		pairingStore: ps,
		machine:      m,
		booking:      b,
		reader:       reader,
		screen:       screen,
		store:        st,
		scanTimeout:  cfg.Hardware.CardScanTimeout,
		pairingTick:  cfg.Monitor.PairingTick,
		errorBackoff: cfg.Monitor.ErrorBackoff,
		tapHold:      postTapHold,
	}
}

// Run executes ticks until the context is cancelled. A failing iteration is
// logged and followed by a fixed back-off; the loop itself never terminates
// on an error.
func (l *Loop) Run(ctx context.Context) {
	log.Println("control loop started, waiting for cards")
	l.showIdle(ctx)

	for {
		if ctx.Err() != nil {
			log.Println("control loop shutting down")
			return
		}
		if err := l.Tick(ctx); err != nil {
			log.Printf("iteration failed: %v", err)
			sleepCtx(ctx, l.errorBackoff)
		}
	}
}

// Tick runs a single iteration: pairing mode when armed, card scanning
// otherwise.
func (l *Loop) Tick(ctx context.Context) error {
	target, armed, err := l.pairingStore.ActiveTarget(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEphemeralStore, err)
	}

	if armed {
		if err := l.machine.Tick(ctx, target); err != nil {
			return fmt.Errorf("%w: %v", ErrPairing, err)
		}
		sleepCtx(ctx, l.pairingTick)
		return nil
	}

	uid, err := l.reader.ReadUID(l.scanTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCardScan, err)
	}
	if uid == "" {
		l.maybeRefreshIdle(ctx)
		return nil
	}

	if err := l.booking.HandleCard(ctx, uid); err != nil {
		return fmt.Errorf("%w: %v", ErrBooking, err)
	}
	sleepCtx(ctx, l.tapHold)
	l.showIdle(ctx)
	return nil
}

func (l *Loop) maybeRefreshIdle(ctx context.Context) {
	if time.Since(l.lastIdle) < idleRefresh {
		return
	}
	l.showIdle(ctx)
}

func (l *Loop) showIdle(ctx context.Context) {
	l.lastIdle = time.Now()
	if l.screen == nil {
		return
	}
	count, err := l.store.AvailableCount(ctx)
	if err != nil {
		log.Printf("availability count failed: %v", err)
		return
	}
	l.screen.Idle(count)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
