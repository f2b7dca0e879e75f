package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"smart-locker-backend/config"
	"smart-locker-backend/internal/store"
)

// mockSender is a mock implementation of the PushSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func testConfig(eventURL string) *config.NotificationConfig {
	return &config.NotificationConfig{
		EventURL:       eventURL,
		Timeout:        time.Second,
		WorkerPoolSize: 1,
		QueueSize:      4,
	}
}

func TestWorkerPool_Dispatch(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(testConfig("http://localhost:1"), store.NewGormStore(db), nil)

	wp.Dispatch(Event{EventType: EventLockerOpened, LockerCode: "A1"})

	select {
	case event := <-wp.jobs:
		assert.Equal(t, EventLockerOpened, event.EventType)
		assert.Equal(t, "A1", event.LockerCode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event to be dispatched")
	}
}

func TestWorkerPool_DispatchDropsWhenFull(t *testing.T) {
	db, _ := newTestDB(t)
	cfg := testConfig("http://localhost:1")
	cfg.QueueSize = 1
	wp := NewWorkerPool(cfg, store.NewGormStore(db), nil)

	wp.Dispatch(Event{EventType: EventLockerOpened, LockerCode: "A1"})
	// The queue is full now; this one is dropped, not blocked on.
	wp.Dispatch(Event{EventType: EventLockerOpened, LockerCode: "B1"})

	assert.Len(t, wp.jobs, 1)
	event := <-wp.jobs
	assert.Equal(t, "A1", event.LockerCode)
}

func TestWorkerPool_PostsEvent(t *testing.T) {
	received := make(chan Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	db, _ := newTestDB(t)
	wp := NewWorkerPool(testConfig(server.URL), store.NewGormStore(db), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(Event{
		EventType:  EventLockerOpened,
		LockerID:   3,
		LockerCode: "A2",
		UserID:     7,
		UserName:   "Bob",
		Action:     "booking",
	})

	select {
	case event := <-received:
		assert.Equal(t, EventLockerOpened, event.EventType)
		assert.Equal(t, int64(3), event.LockerID)
		assert.Equal(t, "A2", event.LockerCode)
		assert.Equal(t, int64(7), event.UserID)
		assert.Equal(t, "Bob", event.UserName)
		assert.Equal(t, "booking", event.Action)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestWorkerPool_PushOnRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gormDB, mock := newTestDB(t)
	options := &webpush.Options{
		Subscriber:      "mailto:ops@example.com",
		VAPIDPublicKey:  "test_public",
		VAPIDPrivateKey: "test_private",
	}
	wp := NewWorkerPool(testConfig(server.URL), store.NewGormStore(gormDB), options)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	t.Run("notifies every subscriber", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "Locker B2 is available again", string(payload))
				wg.Done()
				return &http.Response{
					StatusCode: http.StatusCreated,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions"`).
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow("https://example.com/push", "test_p256dh", "test_auth", time.Now()))

		wp.Dispatch(Event{EventType: EventLockerClosed, LockerCode: "B2", Action: "release"})
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusGone,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions"`).
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow("https://example.com/expired", "test_p256dh", "test_auth", time.Now()))

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs("https://example.com/expired").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.Dispatch(Event{EventType: EventLockerClosed, LockerCode: "B2", Action: "release"})

		// A short sleep to allow the worker to process the job.
		time.Sleep(100 * time.Millisecond)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("booking closure sends no push", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				t.Error("push must not fire for a booking closure")
				return nil, nil
			},
		}

		wp.Dispatch(Event{EventType: EventLockerClosed, LockerCode: "B2", Action: "booking"})

		time.Sleep(100 * time.Millisecond)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWorkerPool_NoPushWithoutVAPIDKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gormDB, mock := newTestDB(t)
	wp := NewWorkerPool(testConfig(server.URL), store.NewGormStore(gormDB), nil)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			t.Error("push must not fire without VAPID keys")
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(Event{EventType: EventLockerClosed, LockerCode: "A1", Action: "release"})

	time.Sleep(100 * time.Millisecond)
	// The subscription table was never queried.
	assert.NoError(t, mock.ExpectationsWereMet())
}
