package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"smart-locker-backend/config"
	"smart-locker-backend/internal/store"
)

// Event types reported to the web server.
const (
	EventLockerOpened = "locker_opened"
	EventLockerClosed = "locker_closed"
	EventCardPaired   = "card_paired"
)

// Event is one outbound locker/pairing notification. Delivery is at-most-once
// and best-effort; loss is silent to the rest of the system.
type Event struct {
	EventType  string `json:"eventType"`
	LockerID   int64  `json:"lockerId,omitempty"`
	LockerCode string `json:"lockerCode,omitempty"`
	UserID     int64  `json:"userId,omitempty"`
	UserName   string `json:"userName,omitempty"`
	Action     string `json:"action,omitempty"`
}

// EventPoster delivers one event to the remote listener.
type EventPoster interface {
	Post(ctx context.Context, event Event) error
}

// httpPoster posts events as JSON with a bounded timeout.
type httpPoster struct {
	client *http.Client
	url    string
}

func (p *httpPoster) Post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("event post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event post returned status %d", resp.StatusCode)
	}
	return nil
}

// PushSender defines the interface for sending a web push notification.
type PushSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real PushSender backed by the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool delivers events through a fixed set of workers reading from a
// bounded queue. A full queue drops the event rather than blocking the
// control loop or the monitor.
type WorkerPool struct {
	size    int
	jobs    chan Event
	store   store.Store
	poster  EventPoster
	sender  PushSender
	webpush *webpush.Options
}

// NewWorkerPool creates a worker pool for the configured endpoint.
func NewWorkerPool(cfg *config.NotificationConfig, st store.Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:  cfg.WorkerPoolSize,
		jobs:  make(chan Event, cfg.QueueSize),
		store: st,
		poster: &httpPoster{
			client: &http.Client{Timeout: cfg.Timeout},
			url:    cfg.EventURL,
		},
		sender:  &WebPushSender{},
		webpush: webpushOptions,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("notification worker %d started", id)
	for {
		select {
		case event := <-wp.jobs:
			wp.process(ctx, event)
		case <-ctx.Done():
			log.Printf("notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch enqueues an event without blocking. When the queue is full the
// event is dropped and logged; delivery is best-effort by design.
func (wp *WorkerPool) Dispatch(event Event) {
	select {
	case wp.jobs <- event:
	default:
		log.Printf("notification queue full, dropping %s event for locker %s", event.EventType, event.LockerCode)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

func (wp *WorkerPool) process(ctx context.Context, event Event) {
	if err := wp.poster.Post(ctx, event); err != nil {
		log.Printf("failed to deliver %s event for locker %s: %v", event.EventType, event.LockerCode, err)
	} else {
		log.Printf("event sent: %s locker=%s action=%s", event.EventType, event.LockerCode, event.Action)
	}

	// A finalized release means a locker became available again; let push
	// subscribers know.
	if event.EventType == EventLockerClosed && event.Action == "release" {
		wp.notifyAvailability(ctx, event)
	}
}

func (wp *WorkerPool) notifyAvailability(ctx context.Context, event Event) {
	if wp.webpush == nil || wp.webpush.VAPIDPrivateKey == "" {
		return
	}

	subs, err := wp.store.Subscriptions(ctx)
	if err != nil {
		log.Printf("failed to fetch push subscriptions: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	message := fmt.Sprintf("Locker %s is available again", event.LockerCode)
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}

		resp, err := wp.sender.Send([]byte(message), wpSub, wp.webpush)
		if err != nil {
			log.Printf("failed to push to %s: %v", sub.Endpoint, err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusGone {
			log.Printf("subscription %s is expired, deleting", sub.Endpoint)
			if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
				log.Printf("failed to delete expired subscription %s: %v", sub.Endpoint, err)
			}
		}
	}
}
