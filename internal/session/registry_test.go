package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndDrop(t *testing.T) {
	r := NewRegistry()

	s := Session{LockerCode: "A2", UserID: 7, UserName: "Bob", StartTime: time.Now(), Kind: KindBooking}
	require.NoError(t, r.Register(s))

	got, ok := r.Get("A2")
	require.True(t, ok)
	assert.Equal(t, KindBooking, got.Kind)
	assert.Equal(t, int64(7), got.UserID)

	r.Drop("A2")
	_, ok = r.Get("A2")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_OneSessionPerCode(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Session{LockerCode: "A2", UserID: 7, Kind: KindBooking}))
	err := r.Register(Session{LockerCode: "A2", UserID: 7, Kind: KindRelease})
	assert.ErrorIs(t, err, ErrSessionExists)

	// The original session is untouched.
	got, ok := r.Get("A2")
	require.True(t, ok)
	assert.Equal(t, KindBooking, got.Kind)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DropIsUnconditional(t *testing.T) {
	r := NewRegistry()
	r.Drop("never-registered")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CodesSnapshot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Session{LockerCode: "A1"}))
	require.NoError(t, r.Register(Session{LockerCode: "B1"}))

	codes := r.Codes()
	assert.ElementsMatch(t, []string{"A1", "B1"}, codes)

	// Mutating after the snapshot does not affect it.
	r.Drop("A1")
	assert.ElementsMatch(t, []string{"A1", "B1"}, codes)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	codes := []string{"A1", "B1", "A2", "B2", "A3"}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := codes[i%len(codes)]
			_ = r.Register(Session{LockerCode: code, UserID: int64(i)})
			r.Codes()
			if i%2 == 0 {
				r.Drop(code)
			}
		}(i)
	}
	wg.Wait()

	// Whatever survived, there is at most one session per code.
	assert.LessOrEqual(t, r.Len(), len(codes))
}
