package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirationOrdering(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	routine := ExpirationDate(ClassificationRoutine, now)
	sensitive := ExpirationDate(ClassificationSensitive, now)
	classified := ExpirationDate(ClassificationClassified, now)

	// Stricter classification means a shorter life.
	assert.True(t, routine.After(sensitive))
	assert.True(t, sensitive.After(classified))

	assert.Equal(t, now.AddDate(0, 0, 30), routine)
	assert.Equal(t, now.AddDate(0, 0, 7), sensitive)
	assert.Equal(t, now.AddDate(0, 0, 3), classified)
}

func TestUnknownClassificationDefaultsToRoutine(t *testing.T) {
	for _, classification := range []string{"", "top-secret", "ROUTINE"} {
		assert.Equal(t, routineTTL, RetentionFor(classification), "classification %q", classification)
	}
}

// memStore is an in-memory lifecycle.Store.
type memStore struct {
	expiresAt []time.Time
	deleted   []bool
	purged    []bool
	sweepErr  error
}

func (s *memStore) add(expiresAt time.Time) int {
	s.expiresAt = append(s.expiresAt, expiresAt)
	s.deleted = append(s.deleted, false)
	s.purged = append(s.purged, false)
	return len(s.expiresAt) - 1
}

func (s *memStore) SoftDeleteExpired(_ context.Context, now time.Time) (int64, error) {
	if s.sweepErr != nil {
		return 0, s.sweepErr
	}
	var n int64
	for i := range s.expiresAt {
		if !s.purged[i] && !s.deleted[i] && s.expiresAt[i].Before(now) {
			s.deleted[i] = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) PurgeDeleted(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for i := range s.expiresAt {
		if !s.purged[i] && s.deleted[i] && s.expiresAt[i].Before(cutoff) {
			s.purged[i] = true
			n++
		}
	}
	return n, nil
}

func newTestManager(store *memStore) *Manager {
	return NewManager(store, time.Hour, 24*time.Hour, 7)
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	store := &memStore{}
	now := time.Now().UTC()
	store.add(now.Add(-time.Minute))
	store.add(now.Add(-time.Hour))
	store.add(now.Add(time.Hour)) // still alive

	m := newTestManager(store)
	m.now = func() time.Time { return now }

	n, err := m.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = m.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "second run with no intervening writes is a no-op")
	assert.False(t, store.deleted[2])
}

func TestSweepErrorIsReturnedNotFatal(t *testing.T) {
	store := &memStore{sweepErr: errors.New("db down")}
	m := newTestManager(store)
	_, err := m.SweepExpired(context.Background())
	require.Error(t, err)
}

// A classified message created at T expires at T+3d, is swept shortly after,
// survives a premature purge, and is gone after the retention window.
func TestClassifiedMessageLifecycle(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	store := &memStore{}
	idx := store.add(ExpirationDate(ClassificationClassified, createdAt))
	m := newTestManager(store)

	m.now = func() time.Time { return createdAt.AddDate(0, 0, 3).Add(time.Minute) }
	n, err := m.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, store.deleted[idx])

	m.now = func() time.Time { return createdAt.AddDate(0, 0, 9) }
	n, err = m.PurgeDeleted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "purge at T+9d is too early for a T+3d expiry with 7d retention")
	assert.False(t, store.purged[idx])

	m.now = func() time.Time { return createdAt.AddDate(0, 0, 10).Add(time.Minute) }
	n, err = m.PurgeDeleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, store.purged[idx])
}

func TestRunSurvivesStorageErrors(t *testing.T) {
	store := &memStore{sweepErr: errors.New("db down")}
	m := NewManager(store, 5*time.Millisecond, time.Hour, 7)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m.Run(ctx) // returns on ctx timeout; a panic or early exit would fail the test
}
