package attendance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/metrics"
)

func roster(n int) []Subject {
	subjects := make([]Subject, 0, n)
	for i := 0; i < n; i++ {
		typ := Student
		if i%3 == 0 {
			typ = Employee
		}
		subjects = append(subjects, Subject{ID: fmt.Sprintf("subj-%02d", i), Type: typ})
	}
	return subjects
}

func TestSeedCreatesOneAbsentRecordPerSubject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	m := metrics.New(prometheus.NewRegistry())
	subjects := roster(7)
	ledger := NewLedger(db, fakeRoster{subjects: subjects}, nil, m)
	repo := NewRepository(db, nil)
	day := DayOf(at(8, 0), time.UTC)

	created, err := ledger.EnsureDay(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 7, created)
	assert.Equal(t, 7, countRecords(t, db))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.SeededRecords))

	for _, s := range subjects {
		rec, err := repo.SameDay(ctx, s, day)
		require.NoError(t, err)
		require.NotNil(t, rec, s.Key())
		assert.Equal(t, Absent, rec.Status)
		assert.Equal(t, System, rec.Method)
		assert.True(t, rec.Timestamp.Equal(day.Start))
	}

	again, err := ledger.EnsureDay(ctx, day)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Equal(t, 7, countRecords(t, db))
}

func TestEnsureDaySkipsDayWithRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ledger := NewLedger(db, fakeRoster{subjects: roster(4)}, nil, nil)
	repo := NewRepository(db, nil)
	day := DayOf(at(8, 0), time.UTC)

	_, err := repo.Merge(ctx, MergeInput{Subject: alice, Day: day, Timestamp: at(8, 0), Status: Present, Method: Manual})
	require.NoError(t, err)

	created, err := ledger.EnsureDay(ctx, day)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 1, countRecords(t, db))
}

func TestSeedSkipsSubjectsWithRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	subjects := roster(5)
	ledger := NewLedger(db, fakeRoster{subjects: subjects}, nil, nil)
	repo := NewRepository(db, nil)
	day := DayOf(at(8, 0), time.UTC)

	_, err := repo.Merge(ctx, MergeInput{Subject: subjects[2], Day: day, Timestamp: at(8, 0), Status: Present, Method: Manual})
	require.NoError(t, err)

	created, err := ledger.Seed(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 4, created)
	assert.Equal(t, 5, countRecords(t, db))

	rec, err := repo.SameDay(ctx, subjects[2], day)
	require.NoError(t, err)
	assert.Equal(t, Present, rec.Status)
}

func TestSeedRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	subjects := append(roster(3), Subject{ID: "v-1", Type: SubjectType("visitor")})
	ledger := NewLedger(db, fakeRoster{subjects: subjects}, nil, nil)

	_, err := ledger.EnsureDay(ctx, DayOf(at(8, 0), time.UTC))
	require.Error(t, err)
	assert.Zero(t, countRecords(t, db))
}

func TestEnsureDayUsesRedisMarker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := newTestDB(t)
	ledger := NewLedger(db, fakeRoster{subjects: roster(2)}, rdb, nil)
	day := DayOf(at(8, 0), time.UTC)

	created, err := ledger.EnsureDay(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.True(t, mr.Exists("rollcall:seeded:"+day.Key))
	assert.Greater(t, mr.TTL("rollcall:seeded:"+day.Key), time.Duration(0))

	// A marked day is not probed again, even if its records vanish.
	_, err = db.Client.Exec(`DELETE FROM attendance_records`)
	require.NoError(t, err)
	created, err = ledger.EnsureDay(ctx, day)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, countRecords(t, db))
}

func TestEnsureDayWithSQLRoster(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	r := NewSQLRoster(db.Client)
	addSubjects(t, r,
		Subject{ID: "s-1", Type: Student},
		Subject{ID: "s-2", Type: Student},
		Subject{ID: "e-1", Type: Employee},
	)

	created, err := NewLedger(db, r, nil, nil).EnsureDay(ctx, DayOf(at(8, 0), time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, created)
}

func TestEnsureDayConcurrentCallersSeedOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ledger := NewLedger(db, fakeRoster{subjects: roster(20)}, nil, nil)
	day := DayOf(at(8, 0), time.UTC)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := ledger.EnsureDay(ctx, day)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, total)
	assert.Equal(t, 20, countRecords(t, db))
}

func TestConcurrentFirstScansKeepOneRecordPerSubject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	subjects := roster(20)
	ts := newTestService(t, subjects...)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		s := subjects[i%len(subjects)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.svc.Scan(ctx, ScanEvent{Subject: s, Method: Manual})
			assert.NoError(t, err, s.Key())
		}()
	}
	wg.Wait()

	recs, err := ts.repo.ListDay(ctx, ListFilter{Day: ts.svc.Today(), Limit: 100})
	require.NoError(t, err)
	require.Len(t, recs, len(subjects))
	seen := map[string]bool{}
	for _, r := range recs {
		key := r.Subject.Key()
		assert.False(t, seen[key], "duplicate record for %s", key)
		seen[key] = true
		assert.Equal(t, Present, r.Status, key)
	}
}
