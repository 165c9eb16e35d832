package attendance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"rollcall/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewDB(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func addSubjects(t *testing.T, roster *SQLRoster, subjects ...Subject) {
	t.Helper()
	for _, s := range subjects {
		require.NoError(t, roster.Add(context.Background(), s, "name-"+s.ID))
	}
}

func countRecords(t *testing.T, db *store.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Client.Get(&n, `SELECT COUNT(*) FROM attendance_records`))
	return n
}

// fakeRoster serves a fixed subject list.
type fakeRoster struct {
	subjects []Subject
}

func (f fakeRoster) Subjects(context.Context) ([]Subject, error) { return f.subjects, nil }

func (f fakeRoster) Exists(_ context.Context, s Subject) (bool, error) {
	for _, have := range f.subjects {
		if have == s {
			return true, nil
		}
	}
	return false, nil
}

// recordingQueue captures enqueued records.
type recordingQueue struct {
	recs []Record
}

func (q *recordingQueue) Enqueue(recs ...Record) { q.recs = append(q.recs, recs...) }
