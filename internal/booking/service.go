package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"smart-locker-backend/internal/display"
	"smart-locker-backend/internal/hardware"
	"smart-locker-backend/internal/notification"
	"smart-locker-backend/internal/session"
	"smart-locker-backend/internal/store"
)

// Dispatcher enqueues outbound events. Satisfied by notification.WorkerPool.
type Dispatcher interface {
	Dispatch(event notification.Event)
}

// Service decides what a card tap means: assign a free locker to a new
// holder, or reopen the holder's locker for release. Either way it opens the
// door and registers the session the monitor will settle.
type Service struct {
	store      store.Store
	registry   *session.Registry
	gateway    *hardware.Gateway
	screen     *display.Screen
	dispatcher Dispatcher
	now        func() time.Time
}

// NewService wires a booking service.
func NewService(st store.Store, reg *session.Registry, gw *hardware.Gateway, screen *display.Screen, d Dispatcher) *Service {
	return &Service{
		store:      st,
		registry:   reg,
		gateway:    gw,
		screen:     screen,
		dispatcher: d,
		now:        time.Now,
	}
}

// HandleCard processes one scanned card uid. Unknown cards are ignored here;
// they only matter to the pairing workflow, and only while it is armed.
func (s *Service) HandleCard(ctx context.Context, uid string) error {
	user, err := s.store.UserByCardUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("card lookup failed: %w", err)
	}
	if user == nil {
		log.Printf("unknown card %s, ignoring", uid)
		return nil
	}
	log.Printf("card accepted: %s (%s)", user.Name, uid)

	locker, err := s.store.LockerByUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("occupancy lookup failed: %w", err)
	}

	kind := session.KindRelease
	if locker == nil {
		locker, err = s.store.ClaimFirstAvailable(ctx, user.ID, s.now())
		if errors.Is(err, store.ErrNoLockerAvailable) {
			log.Printf("no locker available for %s", user.Name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("locker assignment failed: %w", err)
		}
		kind = session.KindBooking
		log.Printf("assigned locker %s to %s", locker.LockerCode, user.Name)
	}

	code := locker.LockerCode
	err = s.registry.Register(session.Session{
		LockerCode: code,
		UserID:     user.ID,
		UserName:   user.Name,
		StartTime:  s.now(),
		Kind:       kind,
	})
	if errors.Is(err, session.ErrSessionExists) {
		// A previous operation on this locker is still settling. Re-actuate
		// the latch for the user but do not double-book the session.
		log.Printf("locker %s already has an active session, reopening only", code)
		if err := s.gateway.Open(code); err != nil {
			log.Printf("reopen of locker %s failed: %v", code, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("session registration failed: %w", err)
	}

	if s.screen != nil {
		s.screen.LockerOpen(code)
	}
	log.Printf("opening locker %s for %s (%s)", code, user.Name, kind)
	if err := s.gateway.Open(code); err != nil {
		log.Printf("open command for locker %s failed: %v", code, err)
	}

	s.dispatcher.Dispatch(notification.Event{
		EventType:  notification.EventLockerOpened,
		LockerID:   locker.ID,
		LockerCode: code,
		UserID:     user.ID,
		UserName:   user.Name,
		Action:     string(kind),
	})
	return nil
}
