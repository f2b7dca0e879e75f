package monitor

import (
	"context"
	"log"
	"time"

	"smart-locker-backend/internal/hardware"
	"smart-locker-backend/internal/notification"
	"smart-locker-backend/internal/session"
	"smart-locker-backend/internal/store"
)

// Dispatcher enqueues outbound events. Satisfied by notification.WorkerPool.
type Dispatcher interface {
	Dispatch(event notification.Event)
}

// Service watches every in-flight session until its latch sensor confirms
// closure, then finalizes the operation against the database. It runs
// independently of the main control loop; sessions keep draining even while
// the cabinet is in pairing mode.
type Service struct {
	registry   *session.Registry
	gateway    *hardware.Gateway
	store      store.Store
	dispatcher Dispatcher
	interval   time.Duration
	now        func() time.Time
}

// NewService wires a background monitor polling at the given cadence.
func NewService(reg *session.Registry, gw *hardware.Gateway, st store.Store, d Dispatcher, interval time.Duration) *Service {
	return &Service{
		registry:   reg,
		gateway:    gw,
		store:      st,
		dispatcher: d,
		interval:   interval,
		now:        time.Now,
	}
}

// Run polls until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Println("background monitor started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("background monitor shutting down")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over the registered sessions. The registry lock is
// only held for the code snapshot; bus and database I/O happen outside it so
// the main loop's own hardware access is never blocked.
func (s *Service) Sweep(ctx context.Context) {
	for _, code := range s.registry.Codes() {
		sess, ok := s.registry.Get(code)
		if !ok {
			continue
		}

		state, err := s.gateway.ReadLatch(code)
		if err != nil {
			log.Printf("latch read for locker %s failed: %v", code, err)
			continue
		}

		switch state {
		case hardware.LatchFault:
			// The controller cannot know the locker's real state anymore.
			// Abandon the session without touching the database and leave
			// reconciliation to the operators.
			log.Printf("locker %s reported a latch fault, abandoning session", code)
			s.registry.Drop(code)
		case hardware.LatchClosed:
			s.finalize(ctx, code, sess)
		case hardware.LatchOpen:
			// Still in motion; check again next tick.
		}
	}
}

func (s *Service) finalize(ctx context.Context, code string, sess session.Session) {
	slot, ok := s.gateway.Slot(code)
	if !ok {
		log.Printf("locker %s vanished from the bank map, dropping session", code)
		s.registry.Drop(code)
		return
	}

	switch sess.Kind {
	case session.KindBooking:
		// The locker was secured after a fresh assignment; occupancy stays.
		log.Printf("locker %s secured, booking complete", code)
		s.registry.Drop(code)
		s.dispatcher.Dispatch(notification.Event{
			EventType:  notification.EventLockerClosed,
			LockerID:   slot.ID,
			LockerCode: code,
			UserID:     sess.UserID,
			UserName:   sess.UserName,
			Action:     string(session.KindBooking),
		})

	case session.KindRelease:
		duration := int(s.now().Sub(sess.StartTime).Minutes())
		if duration < 1 {
			duration = 1
		}
		if err := s.store.ReleaseLocker(ctx, slot.ID, sess.UserID, s.now(), duration); err != nil {
			// Leave the session registered; the next tick retries with the
			// database hopefully back.
			log.Printf("release finalize for locker %s failed: %v", code, err)
			return
		}
		log.Printf("locker %s freed after %d minutes", code, duration)
		s.registry.Drop(code)
		s.dispatcher.Dispatch(notification.Event{
			EventType:  notification.EventLockerClosed,
			LockerID:   slot.ID,
			LockerCode: code,
			UserID:     sess.UserID,
			UserName:   sess.UserName,
			Action:     string(session.KindRelease),
		})
	}
}
