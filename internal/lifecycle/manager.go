package lifecycle

import (
	"context"
	"log"
	"time"
)

// Store is the slice of the message store the manager needs.
type Store interface {
	// SoftDeleteExpired flags every live message with expires_at before now
	// and reports how many rows changed.
	SoftDeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// PurgeDeleted permanently removes soft-deleted messages whose
	// expires_at is before cutoff and reports how many rows went away.
	PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// Manager runs the retention timers. It is the only code path that ever
// performs irreversible deletion; nothing user-triggered reaches PurgeDeleted.
type Manager struct {
	store         Store
	expireEvery   time.Duration
	purgeEvery    time.Duration
	retentionDays int
	now           func() time.Time
}

func NewManager(store Store, expireEvery, purgeEvery time.Duration, retentionDays int) *Manager {
	return &Manager{
		store:         store,
		expireEvery:   expireEvery,
		purgeEvery:    purgeEvery,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// SweepExpired soft-deletes every message past its expiration. Idempotent:
// a second run before the next write matches zero rows.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	return m.store.SoftDeleteExpired(ctx, m.now())
}

// PurgeDeleted hard-deletes messages that have been soft-deleted and expired
// for longer than the retention window.
func (m *Manager) PurgeDeleted(ctx context.Context) (int64, error) {
	cutoff := m.now().AddDate(0, 0, -m.retentionDays)
	return m.store.PurgeDeleted(ctx, cutoff)
}

// Run drives both sweeps until ctx is cancelled. A failed sweep is logged and
// retried on the next tick; the loop never dies on a storage error.
func (m *Manager) Run(ctx context.Context) {
	expire := time.NewTicker(m.expireEvery)
	purge := time.NewTicker(m.purgeEvery)
	defer expire.Stop()
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expire.C:
			n, err := m.SweepExpired(ctx)
			if err != nil {
				log.Printf("lifecycle: expire sweep failed: %v", err)
				continue
			}
			log.Printf("lifecycle: soft-deleted %d expired messages", n)
		case <-purge.C:
			n, err := m.PurgeDeleted(ctx)
			if err != nil {
				log.Printf("lifecycle: purge sweep failed: %v", err)
				continue
			}
			log.Printf("lifecycle: purged %d messages", n)
		}
	}
}
