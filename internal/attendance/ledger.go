package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"rollcall/internal/logging"
	"rollcall/internal/metrics"
	"rollcall/internal/store"
)

const seededMarkerTTL = 48 * time.Hour

// Ledger seeds one baseline absent record per roster subject for a calendar day.
type Ledger struct {
	db      *sqlx.DB
	dialect store.Dialect
	roster  Roster
	rdb     *redis.Client
	metrics *metrics.Metrics
}

// NewLedger creates a ledger. rdb and m may be nil.
func NewLedger(db *store.DB, roster Roster, rdb *redis.Client, m *metrics.Metrics) *Ledger {
	return &Ledger{db: db.Client, dialect: db.Dialect, roster: roster, rdb: rdb, metrics: m}
}

// EnsureDay seeds the day if, and only if, it has no records yet. The emptiness check and
// the seeding pass run under the same day lock inside one transaction, so concurrent
// first scans cannot both seed. Returns the number of records created.
func (l *Ledger) EnsureDay(ctx context.Context, day Day) (int, error) {
	if l.markedSeeded(ctx, day) {
		return 0, nil
	}
	// Cheap unlocked probe first; the authoritative check is repeated under the lock.
	seeded, err := anyOnDay(ctx, l.db, day)
	if err != nil {
		return 0, err
	}
	if seeded {
		l.markSeeded(ctx, day)
		return 0, nil
	}
	return l.seed(ctx, day, true)
}

// Seed runs the seeding pass regardless of existing records; subjects that already have
// a record for the day are skipped.
func (l *Ledger) Seed(ctx context.Context, day Day) (int, error) {
	return l.seed(ctx, day, false)
}

func (l *Ledger) seed(ctx context.Context, day Day, onlyIfEmpty bool) (int, error) {
	log := logging.Logger("ledger")

	// The roster is read before the transaction: SQLite runs on a single connection.
	subjects, err := l.roster.Subjects(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := advisoryLock(ctx, tx, l.dialect, dayKey(day)); err != nil {
		return 0, fmt.Errorf("lock day %s: %w", day.Key, err)
	}
	if onlyIfEmpty {
		seeded, err := anyOnDay(ctx, tx, day)
		if err != nil {
			return 0, err
		}
		if seeded {
			l.markSeeded(ctx, day)
			return 0, nil
		}
	}

	created := 0
	for _, s := range subjects {
		// Same lock the merger takes, so a concurrent scan cannot insert between the
		// existence check and the insert.
		if err := advisoryLock(ctx, tx, l.dialect, subjectDayKey(s, day)); err != nil {
			return 0, fmt.Errorf("lock subject %s: %w", s.Key(), err)
		}
		existing, err := sameDay(ctx, tx, s, day)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			continue
		}
		_, err = insertRecord(ctx, tx, Record{
			ClientUUID: uuid.NewString(),
			Subject:    s,
			Timestamp:  day.Start,
			Status:     Absent,
			Method:     System,
			Synced:     true,
		})
		if err != nil {
			return 0, fmt.Errorf("seed %s for %s: %w", s.Key(), day.Key, err)
		}
		created++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed %s: %w", day.Key, err)
	}
	l.metrics.ObserveSeeded(created)
	l.markSeeded(ctx, day)
	log.Info().Str("day", day.Key).Int("created", created).Int("roster", len(subjects)).Msg("daily ledger seeded")
	return created, nil
}

func (l *Ledger) markerKey(day Day) string {
	return "rollcall:seeded:" + day.Key
}

func (l *Ledger) markedSeeded(ctx context.Context, day Day) bool {
	if l.rdb == nil {
		return false
	}
	n, err := l.rdb.Exists(ctx, l.markerKey(day)).Result()
	if err != nil {
		logging.Logger("ledger").Warn().Err(err).Msg("seeded marker lookup failed")
		return false
	}
	return n > 0
}

func (l *Ledger) markSeeded(ctx context.Context, day Day) {
	if l.rdb == nil {
		return
	}
	if err := l.rdb.SetNX(ctx, l.markerKey(day), 1, seededMarkerTTL).Err(); err != nil {
		logging.Logger("ledger").Warn().Err(err).Msg("seeded marker write failed")
	}
}
