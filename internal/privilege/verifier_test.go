package privilege

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
)

type fakeRoles struct {
	roles []string
	err   error
	calls int
}

func (f *fakeRoles) UserRoles(_ context.Context, _ string) ([]string, error) {
	f.calls++
	return f.roles, f.err
}

type fakeConfirmer struct {
	admin bool
	err   error
	delay time.Duration
	calls int
}

func (f *fakeConfirmer) VerifyAdmin(ctx context.Context) (bool, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.admin, f.err
}

type recorded struct {
	t     secevent.Type
	level risk.Level
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) RecordRisk(_ context.Context, t secevent.Type, _ string, level risk.Level) secevent.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{t, level})
	return secevent.Event{Type: t, Risk: level}
}

func TestEvaluate_ConfirmedAdmin(t *testing.T) {
	roles := &fakeRoles{roles: []string{"renter", "admin"}}
	confirm := &fakeConfirmer{admin: true}
	rec := &recorder{}
	v := NewVerifier(roles, confirm, rec, time.Second)

	assert.Equal(t, StateConfirmed, v.Evaluate(context.Background(), "user-1"))
	assert.Equal(t, StateConfirmed, v.State())
	assert.Equal(t, "user-1", v.User())
	require.Len(t, rec.events, 1)
	assert.Equal(t, secevent.TypeAdminVerified, rec.events[0].t)
	assert.True(t, v.IsAdmin(context.Background()))
	assert.NoError(t, v.RequireAdmin(context.Background()))
}

func TestEvaluate_RoleWithoutConfirmationIsDenied(t *testing.T) {
	roles := &fakeRoles{roles: []string{"admin"}}
	confirm := &fakeConfirmer{admin: false}
	rec := &recorder{}
	v := NewVerifier(roles, confirm, rec, time.Second)

	assert.Equal(t, StateDenied, v.Evaluate(context.Background(), "user-1"))
	assert.True(t, v.Disagreement())
	require.Len(t, rec.events, 1)
	assert.Equal(t, secevent.TypeSuspicious, rec.events[0].t)
	assert.Equal(t, risk.High, rec.events[0].level)
	assert.ErrorIs(t, v.RequireAdmin(context.Background()), ErrNotAdmin)
}

func TestEvaluate_NoAdminRoleSkipsSecondCheck(t *testing.T) {
	roles := &fakeRoles{roles: []string{"owner"}}
	confirm := &fakeConfirmer{admin: true}
	rec := &recorder{}
	v := NewVerifier(roles, confirm, rec, time.Second)

	assert.Equal(t, StateDenied, v.Evaluate(context.Background(), "user-1"))
	assert.Zero(t, confirm.calls)
	assert.Empty(t, rec.events)
	assert.False(t, v.Disagreement())
}

func TestEvaluate_FailsClosed(t *testing.T) {
	t.Run("role lookup error", func(t *testing.T) {
		v := NewVerifier(&fakeRoles{err: errors.New("network")}, &fakeConfirmer{admin: true}, &recorder{}, time.Second)
		assert.Equal(t, StateDenied, v.Evaluate(context.Background(), "user-1"))
	})

	t.Run("confirmation error", func(t *testing.T) {
		rec := &recorder{}
		v := NewVerifier(&fakeRoles{roles: []string{"admin"}}, &fakeConfirmer{err: errors.New("boom")}, rec, time.Second)
		assert.Equal(t, StateDenied, v.Evaluate(context.Background(), "user-1"))
		require.Len(t, rec.events, 1)
		assert.Equal(t, secevent.TypeSuspicious, rec.events[0].t)
	})

	t.Run("confirmation timeout", func(t *testing.T) {
		confirm := &fakeConfirmer{admin: true, delay: time.Second}
		v := NewVerifier(&fakeRoles{roles: []string{"admin"}}, confirm, &recorder{}, 20*time.Millisecond)
		assert.Equal(t, StateDenied, v.Evaluate(context.Background(), "user-1"))
	})

	t.Run("no user", func(t *testing.T) {
		roles := &fakeRoles{roles: []string{"admin"}}
		v := NewVerifier(roles, &fakeConfirmer{admin: true}, &recorder{}, time.Second)
		assert.Equal(t, StateDenied, v.Evaluate(context.Background(), ""))
		assert.Zero(t, roles.calls)
	})
}

func TestReset(t *testing.T) {
	v := NewVerifier(&fakeRoles{roles: []string{"admin"}}, &fakeConfirmer{admin: true}, &recorder{}, time.Second)
	v.Evaluate(context.Background(), "user-1")
	require.Equal(t, StateConfirmed, v.State())

	v.Reset()
	assert.Equal(t, StateUnknown, v.State())
	assert.Empty(t, v.User())
	assert.Empty(t, v.Roles())
	assert.False(t, v.IsAdmin(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "local_candidate", StateLocalCandidate.String())
	assert.Equal(t, "denied", StateDenied.String())
}
