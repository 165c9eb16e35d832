package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"rollcall/internal/store"
)

// ErrRecordNotFound is returned by lookups that match no attendance record.
var ErrRecordNotFound = errors.New("attendance record not found")

const recordColumns = `id, client_uuid, subject_id, subject_type, "timestamp", status, method, match_confidence, synced, syncing, updated_at`

// Repository persists attendance records in Postgres or SQLite.
type Repository struct {
	db      *sqlx.DB
	dialect store.Dialect
	clock   quartz.Clock
}

// NewRepository creates a repo. A nil clock uses wall time.
func NewRepository(db *store.DB, clock quartz.Clock) *Repository {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Repository{db: db.Client, dialect: db.Dialect, clock: clock}
}

// MergeInput is a classified scan ready to be folded into the subject's day record.
type MergeInput struct {
	Subject         Subject
	Day             Day
	Timestamp       time.Time
	Status          Status
	Method          Method
	MatchConfidence *float64
	// Offline writes leave the record unsynced so it is picked up by the sync queue.
	Offline bool
}

// Merge folds a scan into the single same-day record for the subject, inserting one if
// none exists. The stored status only moves up the absent < late < present order;
// timestamp, method and confidence always follow the latest scan.
func (r *Repository) Merge(ctx context.Context, in MergeInput) (Record, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin merge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.lock(ctx, tx, subjectDayKey(in.Subject, in.Day)); err != nil {
		return Record{}, fmt.Errorf("lock subject day: %w", err)
	}

	existing, err := sameDay(ctx, tx, in.Subject, in.Day)
	if err != nil {
		return Record{}, err
	}

	var id int64
	if existing == nil {
		id, err = insertRecord(ctx, tx, Record{
			ClientUUID:      uuid.NewString(),
			Subject:         in.Subject,
			Timestamp:       in.Timestamp,
			Status:          in.Status,
			Method:          in.Method,
			MatchConfidence: in.MatchConfidence,
			Synced:          !in.Offline,
		})
		if err != nil {
			return Record{}, fmt.Errorf("insert record: %w", err)
		}
	} else {
		id = existing.ID
		status := existing.Status
		if upgrades(in.Status, existing.Status) {
			status = in.Status
		}
		query := `UPDATE attendance_records
			SET "timestamp" = ?, status = ?, method = ?, match_confidence = ?, updated_at = ?
			WHERE id = ?`
		if in.Offline {
			query = `UPDATE attendance_records
			SET "timestamp" = ?, status = ?, method = ?, match_confidence = ?, updated_at = ?, synced = FALSE, syncing = FALSE
			WHERE id = ?`
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(query),
			in.Timestamp.UTC(), string(status), string(in.Method), in.MatchConfidence, r.clock.Now().UTC(), id)
		if err != nil {
			return Record{}, fmt.Errorf("update record %d: %w", id, err)
		}
	}

	rec, err := getRecord(ctx, tx, "id = ?", id)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit merge: %w", err)
	}
	return rec, nil
}

// upgrades reports whether next strictly outranks current. Unranked statuses (excused)
// never upgrade and are never replaced.
func upgrades(next, current Status) bool {
	nr, ok := next.Rank()
	if !ok {
		return false
	}
	cr, ok := current.Rank()
	if !ok {
		return false
	}
	return nr > cr
}

// SameDay returns the subject's record for day, or nil.
func (r *Repository) SameDay(ctx context.Context, s Subject, day Day) (*Record, error) {
	return sameDay(ctx, r.db, s, day)
}

// Get returns a record by surrogate id.
func (r *Repository) Get(ctx context.Context, id int64) (Record, error) {
	return getRecord(ctx, r.db, "id = ?", id)
}

// GetByClientUUID returns the record carrying the client idempotency key.
func (r *Repository) GetByClientUUID(ctx context.Context, clientUUID string) (Record, error) {
	return getRecord(ctx, r.db, "client_uuid = ?", clientUUID)
}

// InsertIfAbsent stores a client-originated record unless its client_uuid is already
// known, in which case the existing record is returned with inserted=false.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	var id int64
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
		INSERT INTO attendance_records (client_uuid, subject_id, subject_type, "timestamp", status, method, match_confidence, synced, syncing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE)
		ON CONFLICT (client_uuid) DO NOTHING
		RETURNING id
	`), rec.ClientUUID, rec.Subject.ID, string(rec.Subject.Type), rec.Timestamp.UTC(),
		string(rec.Status), string(rec.Method), rec.MatchConfidence, rec.Synced).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := r.GetByClientUUID(ctx, rec.ClientUUID)
		return existing, false, err
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("insert %s: %w", rec.ClientUUID, err)
	}
	stored, err := r.Get(ctx, id)
	return stored, true, err
}

// MarkSyncing flags a record as in flight to the sync endpoint.
func (r *Repository) MarkSyncing(ctx context.Context, clientUUID string) error {
	return r.setSyncState(ctx, `syncing = TRUE`, clientUUID)
}

// MarkSynced records a confirmed transmission. Only records still in flight are
// confirmed: an offline merge during the send clears syncing, so the newer state
// stays unsynced and is sent again.
func (r *Repository) MarkSynced(ctx context.Context, clientUUID string) error {
	return r.setSyncState(ctx, `synced = TRUE, syncing = FALSE`, clientUUID, `syncing = TRUE`)
}

// ClearSyncing makes a record visible to the unsynced query again.
func (r *Repository) ClearSyncing(ctx context.Context, clientUUID string) error {
	return r.setSyncState(ctx, `syncing = FALSE`, clientUUID)
}

func (r *Repository) setSyncState(ctx context.Context, set, clientUUID string, guards ...string) error {
	where := `client_uuid = ?`
	for _, g := range guards {
		where += ` AND ` + g
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE attendance_records SET `+set+` WHERE `+where), clientUUID)
	if err != nil {
		return fmt.Errorf("update sync state of %s: %w", clientUUID, err)
	}
	return nil
}

// ListUnsynced returns up to limit records that are neither synced nor in flight.
func (r *Repository) ListUnsynced(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []Record
	err := r.db.SelectContext(ctx, &recs, r.db.Rebind(`
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE synced = FALSE AND syncing = FALSE
		ORDER BY id
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced: %w", err)
	}
	return recs, nil
}

// ListFilter narrows ListDay.
type ListFilter struct {
	Day         Day
	SubjectType SubjectType
	SubjectID   string
	Status      Status
	Limit       int
	Offset      int
}

// ListDay returns the records of one calendar day with basic filters.
func (r *Repository) ListDay(ctx context.Context, f ListFilter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	clauses := []string{`"timestamp" >= ?`, `"timestamp" < ?`}
	args := []any{f.Day.Start.UTC(), f.Day.End.UTC()}
	if f.SubjectType != "" {
		clauses = append(clauses, "subject_type = ?")
		args = append(args, string(f.SubjectType))
	}
	if f.SubjectID != "" {
		clauses = append(clauses, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY subject_type, subject_id, id LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	var recs []Record
	if err := r.db.SelectContext(ctx, &recs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list day %s: %w", f.Day.Key, err)
	}
	return recs, nil
}

// lock takes a transaction-scoped advisory lock. SQLite transactions are already
// exclusive (_txlock=immediate), so there is nothing to do there.
func (r *Repository) lock(ctx context.Context, tx *sqlx.Tx, key string) error {
	return advisoryLock(ctx, tx, r.dialect, key)
}

func advisoryLock(ctx context.Context, tx *sqlx.Tx, dialect store.Dialect, key string) error {
	if dialect != store.Postgres {
		return nil
	}
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

func subjectDayKey(s Subject, day Day) string {
	return "attendance-subject:" + s.Key() + ":" + day.Key
}

func dayKey(day Day) string {
	return "attendance-day:" + day.Key
}

func sameDay(ctx context.Context, q sqlx.ExtContext, s Subject, day Day) (*Record, error) {
	var rec Record
	err := sqlx.GetContext(ctx, q, &rec, q.Rebind(`
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE subject_id = ? AND subject_type = ? AND "timestamp" >= ? AND "timestamp" < ?
		ORDER BY id
		LIMIT 1
	`), s.ID, string(s.Type), day.Start.UTC(), day.End.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("same-day lookup %s: %w", s.Key(), err)
	}
	return &rec, nil
}

func anyOnDay(ctx context.Context, q sqlx.ExtContext, day Day) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`
		SELECT COUNT(*) FROM (
			SELECT 1 FROM attendance_records WHERE "timestamp" >= ? AND "timestamp" < ? LIMIT 1
		) AS probe
	`), day.Start.UTC(), day.End.UTC())
	if err != nil {
		return false, fmt.Errorf("probe day %s: %w", day.Key, err)
	}
	return n > 0, nil
}

func getRecord(ctx context.Context, q sqlx.ExtContext, where string, arg any) (Record, error) {
	var rec Record
	err := sqlx.GetContext(ctx, q, &rec, q.Rebind(`SELECT `+recordColumns+` FROM attendance_records WHERE `+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func insertRecord(ctx context.Context, q sqlx.ExtContext, rec Record) (int64, error) {
	var id int64
	err := q.QueryRowxContext(ctx, q.Rebind(`
		INSERT INTO attendance_records (client_uuid, subject_id, subject_type, "timestamp", status, method, match_confidence, synced, syncing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE)
		RETURNING id
	`), rec.ClientUUID, rec.Subject.ID, string(rec.Subject.Type), rec.Timestamp.UTC(),
		string(rec.Status), string(rec.Method), rec.MatchConfidence, rec.Synced).Scan(&id)
	return id, err
}
