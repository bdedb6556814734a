package ratelimit

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/gearshare/backend/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newLimiter() (*Limiter, *clock, *storage.MemoryStore) {
	c := &clock{t: time.UnixMilli(0)}
	st := storage.NewMemoryStore()
	return New(st).WithClock(c.now), c, st
}

func TestCheckAndConsume_WindowReset(t *testing.T) {
	l, c, _ := newLimiter()
	window := 300000 * time.Millisecond

	assert.True(t, l.CheckAndConsume("registration", "a@example.com", 3, window))
	assert.True(t, l.CheckAndConsume("registration", "a@example.com", 3, window))
	assert.True(t, l.CheckAndConsume("registration", "a@example.com", 3, window))
	assert.False(t, l.CheckAndConsume("registration", "a@example.com", 3, window))

	c.t = time.UnixMilli(300001)
	assert.True(t, l.CheckAndConsume("registration", "a@example.com", 3, window))
}

func TestCheckAndConsume_ResetsExactlyAtWindowEnd(t *testing.T) {
	l, c, _ := newLimiter()
	assert.True(t, l.CheckAndConsume("login", "u", 1, time.Second))
	c.t = time.UnixMilli(999)
	assert.False(t, l.CheckAndConsume("login", "u", 1, time.Second))
	c.t = time.UnixMilli(1000)
	assert.True(t, l.CheckAndConsume("login", "u", 1, time.Second))
}

func TestCheckAndConsume_KeysAreIndependent(t *testing.T) {
	l, _, _ := newLimiter()
	assert.True(t, l.Allow(Policy{Action: "login", MaxAttempts: 1, Window: time.Minute}, "alice"))
	assert.False(t, l.Allow(Policy{Action: "login", MaxAttempts: 1, Window: time.Minute}, "alice"))
	assert.True(t, l.Allow(Policy{Action: "login", MaxAttempts: 1, Window: time.Minute}, "bob"))
	assert.True(t, l.Allow(Policy{Action: "payment", MaxAttempts: 1, Window: time.Minute}, "alice"))
}

func TestLimiter_SharesStateThroughStorage(t *testing.T) {
	l, c, st := newLimiter()
	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(Registration, "dev-1"))
	}

	raw, ok, err := st.Get(storage.KeyRateLimitAttempts)
	require.NoError(t, err)
	require.True(t, ok)
	var windows map[string]Window
	require.NoError(t, json.Unmarshal([]byte(raw), &windows))
	assert.Equal(t, 3, windows["registration:dev-1"].Count)
	assert.Equal(t, int64(300000), windows["registration:dev-1"].WindowMs)

	other := New(st).WithClock(c.now)
	assert.False(t, other.Allow(Registration, "dev-1"))
}

func TestLimiter_PrunesStaleWindows(t *testing.T) {
	l, c, st := newLimiter()
	l.Allow(Policy{Action: "api", MaxAttempts: 10, Window: time.Second}, "x")
	c.t = time.UnixMilli(5000)
	l.Allow(Policy{Action: "api", MaxAttempts: 10, Window: time.Second}, "y")

	raw, _, _ := st.Get(storage.KeyRateLimitAttempts)
	var windows map[string]Window
	require.NoError(t, json.Unmarshal([]byte(raw), &windows))
	assert.NotContains(t, windows, "api:x")
	assert.Contains(t, windows, "api:y")
}

func TestRemaining(t *testing.T) {
	l, c, _ := newLimiter()
	assert.Equal(t, 3, l.Remaining(Registration, "d"))
	l.Allow(Registration, "d")
	assert.Equal(t, 2, l.Remaining(Registration, "d"))
	l.Allow(Registration, "d")
	l.Allow(Registration, "d")
	l.Allow(Registration, "d")
	assert.Equal(t, 0, l.Remaining(Registration, "d"))
	c.t = c.t.Add(Registration.Window)
	assert.Equal(t, 3, l.Remaining(Registration, "d"))
}

type brokenStore struct{ storage.MemoryStore }

func (*brokenStore) Get(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (*brokenStore) Set(string, string) error         { return errors.New("disk gone") }

func TestLimiter_StillCountsWhenStorageFails(t *testing.T) {
	l := New(&brokenStore{})
	assert.Error(t, l.Healthy())
	assert.True(t, l.CheckAndConsume("login", "u", 1, time.Minute))
	assert.False(t, l.CheckAndConsume("login", "u", 1, time.Minute))
}

func TestLimiter_ConcurrentInstancesShareCounts(t *testing.T) {
	a, c, st := newLimiter()
	b := New(st).WithClock(c.now)

	require.True(t, b.Allow(Registration, "other"))
	for i := 0; i < 3; i++ {
		require.True(t, a.Allow(Registration, "u"))
	}
	assert.False(t, b.Allow(Registration, "u"))
	assert.Equal(t, 0, a.Remaining(Registration, "u"))

	raw, _, err := st.Get(storage.KeyRateLimitAttempts)
	require.NoError(t, err)
	var windows map[string]Window
	require.NoError(t, json.Unmarshal([]byte(raw), &windows))
	assert.Equal(t, 4, windows["registration:u"].Count)
	assert.Equal(t, 1, windows["registration:other"].Count)
}
