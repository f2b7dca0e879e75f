package pairing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Phase is the externally visible state of the pairing workflow.
type Phase string

const (
	// PhaseNone means no pairing is in progress.
	PhaseNone Phase = ""
	// PhaseWaitingTap means the web side armed pairing and the cabinet is
	// waiting for a card.
	PhaseWaitingTap Phase = "waiting_tap"
	// PhaseWaitingOTP means a new card was tapped and the keypad code is
	// pending.
	PhaseWaitingOTP Phase = "waiting_otp"
	// PhaseSuccess is the terminal state after a card was bound.
	PhaseSuccess Phase = "success"
	// PhaseCardExists is the terminal state when the tapped card already
	// belongs to another user.
	PhaseCardExists Phase = "card_exists"
)

// Keys in the shared ephemeral store. The web server sets the active target
// and the expected code; the cabinet drives the rest. Every key carries its
// own expiry, and absence of the active key is the only exit signal.
const (
	keyActive  = "pairing_mode_active"
	keyStatus  = "pairing_status"
	keyTempUID = "pairing_temp_uid"
	keyOTP     = "pairing_otp"
)

// Store is the ephemeral, TTL-backed coordination state shared with the web
// server that arms pairing.
type Store interface {
	// ActiveTarget returns the user id pairing is armed for, or ok=false
	// when no pairing is in progress.
	ActiveTarget(ctx context.Context) (int64, bool, error)
	Phase(ctx context.Context) (Phase, error)
	SetPhase(ctx context.Context, phase Phase, ttl time.Duration) error
	TempUID(ctx context.Context) (string, error)
	SetTempUID(ctx context.Context, uid string, ttl time.Duration) error
	ExpectedOTP(ctx context.Context) (string, error)
	// ClearActive drops the active flag, returning the cabinet to normal
	// card scanning.
	ClearActive(ctx context.Context) error
}

// redisStore is the production Store shared with the web server.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a Redis client as a pairing Store.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, nil
}

func (s *redisStore) ActiveTarget(ctx context.Context) (int64, bool, error) {
	val, err := s.get(ctx, keyActive)
	if err != nil || val == "" {
		return 0, false, err
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed %s value %q: %w", keyActive, val, err)
	}
	return id, true, nil
}

func (s *redisStore) Phase(ctx context.Context) (Phase, error) {
	val, err := s.get(ctx, keyStatus)
	return Phase(val), err
}

func (s *redisStore) SetPhase(ctx context.Context, phase Phase, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyStatus, string(phase), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", keyStatus, err)
	}
	return nil
}

func (s *redisStore) TempUID(ctx context.Context) (string, error) {
	return s.get(ctx, keyTempUID)
}

func (s *redisStore) SetTempUID(ctx context.Context, uid string, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyTempUID, uid, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", keyTempUID, err)
	}
	return nil
}

func (s *redisStore) ExpectedOTP(ctx context.Context) (string, error) {
	return s.get(ctx, keyOTP)
}

func (s *redisStore) ClearActive(ctx context.Context) error {
	if err := s.client.Del(ctx, keyActive).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", keyActive, err)
	}
	return nil
}

// memoryStore is a process-local Store for tests and single-binary setups
// where the web surface runs in the same process.
type memoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates an in-memory pairing store with per-key TTLs.
func NewMemoryStore() Store {
	return &memoryStore{cache: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (s *memoryStore) ActiveTarget(ctx context.Context) (int64, bool, error) {
	val, found := s.cache.Get(keyActive)
	if !found {
		return 0, false, nil
	}
	id, ok := val.(int64)
	if !ok {
		return 0, false, fmt.Errorf("malformed %s value %v", keyActive, val)
	}
	return id, true, nil
}

// Arm sets the pairing target and expected code the way the web server
// would, used by tests and the embedded setup.
func Arm(s Store, targetUserID int64, otp string, ttl time.Duration) error {
	ms, ok := s.(*memoryStore)
	if !ok {
		return errors.New("Arm is only supported on the in-memory store")
	}
	ms.cache.Set(keyActive, targetUserID, ttl)
	ms.cache.Set(keyOTP, otp, ttl)
	ms.cache.Set(keyStatus, string(PhaseWaitingTap), ttl)
	return nil
}

func (s *memoryStore) Phase(ctx context.Context) (Phase, error) {
	val, found := s.cache.Get(keyStatus)
	if !found {
		return PhaseNone, nil
	}
	return Phase(val.(string)), nil
}

func (s *memoryStore) SetPhase(ctx context.Context, phase Phase, ttl time.Duration) error {
	s.cache.Set(keyStatus, string(phase), ttl)
	return nil
}

func (s *memoryStore) TempUID(ctx context.Context) (string, error) {
	val, found := s.cache.Get(keyTempUID)
	if !found {
		return "", nil
	}
	return val.(string), nil
}

func (s *memoryStore) SetTempUID(ctx context.Context, uid string, ttl time.Duration) error {
	s.cache.Set(keyTempUID, uid, ttl)
	return nil
}

func (s *memoryStore) ExpectedOTP(ctx context.Context) (string, error) {
	val, found := s.cache.Get(keyOTP)
	if !found {
		return "", nil
	}
	return val.(string), nil
}

func (s *memoryStore) ClearActive(ctx context.Context) error {
	s.cache.Delete(keyActive)
	return nil
}
