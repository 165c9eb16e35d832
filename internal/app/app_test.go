package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/queue"
)

func testConfig(t *testing.T) config.App {
	t.Helper()
	cfg := config.Defaults()
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "rollcall.db")
	cfg.Timezone = "UTC"
	cfg.RedisAddr = ""
	cfg.QueueBackend = "memory"
	return cfg
}

func TestBuildEdgeNode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.SyncUpstreamURL = "http://127.0.0.1:1"

	a, err := Build(ctx, cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.SyncQueue)
	assert.NotNil(t, a.Reconciler)
	assert.IsType(t, &queue.InMemory{}, a.Work)
	checks := a.Checks()
	assert.Contains(t, checks, "db")
	assert.NotContains(t, checks, "redis")
	assert.True(t, checks["db"](ctx))

	require.NoError(t, a.Roster.Add(ctx, attendance.Subject{ID: "s-1", Type: attendance.Student}, "S"))
	require.NoError(t, a.SeedToday(ctx))
	recs, err := a.Records.ListDay(ctx, attendance.ListFilter{Day: a.Service.Today()})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, attendance.Absent, recs[0].Status)
}

func TestBuildServerWithRedis(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisAddr = mr.Addr()
	cfg.QueueBackend = "redis"
	cfg.SettingsCacheTTL = time.Minute

	a, err := Build(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.SyncQueue)
	assert.Nil(t, a.Reconciler)
	assert.IsType(t, &queue.RedisQueue{}, a.Work)
	assert.True(t, a.Checks()["redis"](context.Background()))
}

func TestBuildRejectsRedisQueueWithoutRedis(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.QueueBackend = "redis"
	_, err := Build(context.Background(), cfg, prometheus.NewRegistry())
	assert.Error(t, err)
}
