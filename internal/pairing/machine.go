package pairing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"smart-locker-backend/config"
	"smart-locker-backend/internal/display"
	"smart-locker-backend/internal/hardware"
	"smart-locker-backend/internal/notification"
	"smart-locker-backend/internal/store"
)

// clearKey empties the code buffer; the remaining auxiliary symbols of the
// keypad grid are ignored.
const clearKey = 'C'

// CardHandler processes taps from already-registered cards. A known card
// during pairing is an ordinary locker operation, not a pairing event.
// Satisfied by booking.Service.
type CardHandler interface {
	HandleCard(ctx context.Context, uid string) error
}

// Dispatcher enqueues outbound events. Satisfied by notification.WorkerPool.
type Dispatcher interface {
	Dispatch(event notification.Event)
}

// Machine drives the card pairing workflow: wait for a tap of an
// unregistered card, then collect the keypad code the web side handed to the
// user, and bind the card on a match. All cross-process state lives in the
// ephemeral Store; the machine itself only buffers keypad input.
type Machine struct {
	otpLength   int
	stepTTL     time.Duration
	resultTTL   time.Duration
	errorHold   time.Duration
	scanTimeout time.Duration
	debounce    time.Duration

	store      Store
	users      store.Store
	reader     hardware.CardReader
	keypad     hardware.Keypad
	screen     *display.Screen
	booking    CardHandler
	dispatcher Dispatcher

	buffer     string
	lastKey    time.Time
	errorUntil time.Time
	now        func() time.Time
}

// NewMachine wires a pairing machine from the configuration.
func NewMachine(cfg *config.Config, st Store, users store.Store, reader hardware.CardReader, keypad hardware.Keypad, screen *display.Screen, booking CardHandler, d Dispatcher) *Machine {
	return &Machine{
		otpLength:   cfg.Pairing.OTPLength,
		stepTTL:     cfg.Pairing.StepTTL,
		resultTTL:   cfg.Pairing.ResultTTL,
		errorHold:   cfg.Pairing.ErrorHold,
		scanTimeout: cfg.Hardware.CardScanTimeout,
		debounce:    cfg.Hardware.KeyDebounce,
		store:       st,
		users:       users,
		reader:      reader,
		keypad:      keypad,
		screen:      screen,
		booking:     booking,
		dispatcher:  d,
		now:         time.Now,
	}
}

// Tick advances the workflow one step for the given target user. The caller
// has already established that pairing is armed for that user.
func (m *Machine) Tick(ctx context.Context, targetUserID int64) error {
	phase, err := m.store.Phase(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pairing phase: %w", err)
	}

	switch phase {
	case PhaseWaitingTap:
		return m.awaitTap(ctx)
	case PhaseWaitingOTP:
		return m.awaitCode(ctx, targetUserID)
	default:
		// Terminal or expired phases need no input; the web side observes
		// them until their keys lapse.
		return nil
	}
}

func (m *Machine) awaitTap(ctx context.Context) error {
	uid, err := m.reader.ReadUID(m.scanTimeout)
	if err != nil {
		return fmt.Errorf("card scan failed: %w", err)
	}
	if uid == "" {
		return nil
	}
	log.Printf("card tapped while pairing armed: %s", uid)

	user, err := m.users.UserByCardUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("card lookup failed: %w", err)
	}
	if user != nil {
		// A registered card is a normal locker operation; the pending
		// pairing target keeps waiting for its own card.
		log.Printf("card belongs to %s, handling as a normal tap", user.Name)
		return m.booking.HandleCard(ctx, uid)
	}

	if err := m.store.SetTempUID(ctx, uid, m.stepTTL); err != nil {
		return err
	}
	if err := m.store.SetPhase(ctx, PhaseWaitingOTP, m.stepTTL); err != nil {
		return err
	}
	m.buffer = ""
	m.errorUntil = time.Time{}
	if m.screen != nil {
		m.screen.OTPInput("")
	}
	log.Printf("new card detected, waiting for code on keypad")
	return nil
}

func (m *Machine) awaitCode(ctx context.Context, targetUserID int64) error {
	if !m.errorUntil.IsZero() {
		if m.now().Before(m.errorUntil) {
			return nil
		}
		m.errorUntil = time.Time{}
		if m.screen != nil {
			m.screen.OTPInput(m.buffer)
		}
	}

	keys := m.keypad.PressedKeys()
	if len(keys) == 0 {
		return nil
	}
	if m.now().Sub(m.lastKey) < m.debounce {
		return nil
	}
	key := keys[0]
	m.lastKey = m.now()

	switch {
	case key == clearKey:
		m.buffer = ""
		if m.screen != nil {
			m.screen.OTPInput("")
		}
	case key >= '0' && key <= '9':
		if len(m.buffer) < m.otpLength {
			m.buffer += string(key)
			if m.screen != nil {
				m.screen.OTPInput(m.buffer)
			}
		}
		if len(m.buffer) == m.otpLength {
			return m.verify(ctx, targetUserID)
		}
	}
	return nil
}

func (m *Machine) verify(ctx context.Context, targetUserID int64) error {
	entered := m.buffer
	m.buffer = ""

	expected, err := m.store.ExpectedOTP(ctx)
	if err != nil {
		return err
	}
	if expected == "" {
		// The code key expired or was never set; count it as a failure
		// rather than guessing.
		log.Printf("no expected code present, rejecting input")
		m.fail()
		return nil
	}
	if entered != expected {
		log.Printf("wrong pairing code entered")
		m.fail()
		return nil
	}

	uid, err := m.store.TempUID(ctx)
	if err != nil {
		return err
	}
	if uid == "" {
		log.Printf("pairing code matched but the tapped card uid expired")
		m.fail()
		return nil
	}

	err = m.users.BindCard(ctx, targetUserID, uid)
	if errors.Is(err, store.ErrCardTaken) {
		log.Printf("card %s already registered to another user", uid)
		if err := m.store.SetPhase(ctx, PhaseCardExists, m.resultTTL); err != nil {
			return err
		}
		if err := m.store.ClearActive(ctx); err != nil {
			return err
		}
		if m.screen != nil {
			m.screen.CardRejected()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("card binding failed: %w", err)
	}

	if err := m.store.SetPhase(ctx, PhaseSuccess, m.resultTTL); err != nil {
		return err
	}
	if err := m.store.ClearActive(ctx); err != nil {
		return err
	}
	if m.screen != nil {
		m.screen.PairSuccess()
	}
	log.Printf("card %s linked to user %d", uid, targetUserID)
	m.dispatcher.Dispatch(notification.Event{
		EventType: notification.EventCardPaired,
		UserID:    targetUserID,
	})
	return nil
}

// fail resets the buffer and holds the error screen for the configured
// window before input resumes.
func (m *Machine) fail() {
	m.buffer = ""
	m.errorUntil = m.now().Add(m.errorHold)
	if m.screen != nil {
		m.screen.OTPError()
	}
}
