package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homestats.org/internal/account"
	"homestats.org/internal/permissions"
)

// fakeStore implements just the lifecycle slice of account.Store the
// scheduler touches; everything else panics if reached.
type fakeStore struct {
	account.Store

	mu       sync.Mutex
	users    map[string]account.User
	listErr  error
	failIDs  map[string]bool
	runCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]account.User{},
		failIDs: map[string]bool{},
	}
}

func (f *fakeStore) addDeleted(id string, deletedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason := "user requested"
	f.users[id] = account.User{
		ID:             id,
		Email:          id + "@example.com",
		Role:           permissions.RoleUser,
		DeletedAt:      &deletedAt,
		DeletionReason: &reason,
	}
}

func (f *fakeStore) ListExpiredSoftDeleted(_ context.Context, cutoff time.Time) ([]account.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCount++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []account.User
	for _, u := range f.users {
		if u.DeletedAt != nil && u.DeletedAt.Before(cutoff) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) HardDelete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[id] {
		return errors.New("storage unavailable")
	}
	if _, ok := f.users[id]; !ok {
		return account.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeStore) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runCount
}

func (f *fakeStore) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

const grace = 30 * 24 * time.Hour

func TestRunOnceDeletesOnlyExpired(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addDeleted("expired", now.Add(-grace-time.Hour))
	store.addDeleted("fresh", now.Add(-grace+time.Hour))

	sched := New(store, grace, WithClock(func() time.Time { return now }))
	res := sched.RunOnce(context.Background())

	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, store.remaining())
}

func TestRunOnceIsolatesPerAccountFailures(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addDeleted("a", now.Add(-grace-time.Hour))
	store.addDeleted("b", now.Add(-grace-time.Hour))
	store.addDeleted("c", now.Add(-grace-time.Hour))
	store.failIDs["b"] = true

	sched := New(store, grace, WithClock(func() time.Time { return now }))
	res := sched.RunOnce(context.Background())

	assert.Equal(t, "partial", res.Status)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, store.remaining())
}

func TestRunOnceReportsListFailure(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")

	sched := New(store, grace)
	res := sched.RunOnce(context.Background())

	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "connection refused")
	assert.Zero(t, res.Deleted)
}

func TestSchedulerLoopSurvivesFailedPasses(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")

	sched := New(store, grace, WithInterval(10*time.Millisecond))
	sched.Start(context.Background())
	defer sched.Stop()

	require.Eventually(t, func() bool { return store.runs() >= 3 },
		time.Second, 5*time.Millisecond, "loop should keep running after failed passes")
}

func TestStartIsIdempotentAndStopAcknowledges(t *testing.T) {
	store := newFakeStore()
	sched := New(store, grace, WithInterval(time.Hour))

	sched.Start(context.Background())
	sched.Start(context.Background()) // second start must not spawn a second loop

	assert.True(t, sched.Info().Running)
	sched.Stop()
	assert.False(t, sched.Info().Running)
	sched.Stop() // safe to repeat
}

func TestStopBeforeStartIsSafe(t *testing.T) {
	sched := New(newFakeStore(), grace)
	sched.Stop()
	assert.False(t, sched.Info().Running)
}

func TestContextCancellationStopsLoop(t *testing.T) {
	store := newFakeStore()
	sched := New(store, grace, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return !sched.Info().Running },
		time.Second, 5*time.Millisecond)
}

func TestManualCleanupRecordsLastRun(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addDeleted("expired", now.Add(-grace-time.Hour))

	sched := New(store, grace, WithClock(func() time.Time { return now }))
	res := sched.ManualCleanup(context.Background())
	assert.Equal(t, 1, res.Deleted)

	info := sched.Info()
	require.NotNil(t, info.LastRun)
	assert.Equal(t, 1, info.LastRun.Deleted)
	assert.Equal(t, grace, info.GracePeriod)
}

func TestStatsCountsPending(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addDeleted("expired", now.Add(-grace-time.Hour))
	store.addDeleted("fresh", now.Add(-time.Hour))

	sched := New(store, grace, WithClock(func() time.Time { return now }))
	stats, err := sched.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingDeletion)
	// Never started: not overdue, but not healthy either.
	assert.False(t, stats.Overdue)
	assert.False(t, stats.Healthy)
}

func TestStatsReportsOverdueScheduler(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore()

	sched := New(store, grace, WithClock(clock), WithInterval(time.Hour))
	sched.Start(context.Background())
	defer sched.Stop()

	stats, err := sched.Stats(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.Overdue)
	assert.Zero(t, stats.OverdueHours)
	assert.True(t, stats.Healthy)

	// Next run was scheduled for now+1h; jump two hours past it.
	now = now.Add(3 * time.Hour)
	stats, err = sched.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Overdue)
	assert.InDelta(t, 2.0, stats.OverdueHours, 0.01)
	assert.False(t, stats.Healthy)
}
