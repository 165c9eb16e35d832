package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"rollcall/internal/logging"
)

// SettingsProvider supplies the classification settings.
type SettingsProvider interface {
	Settings(ctx context.Context) (Settings, error)
}

// StaticSettings always returns the wrapped value.
type StaticSettings Settings

func (s StaticSettings) Settings(context.Context) (Settings, error) {
	return Settings(s).Normalize(), nil
}

// SQLSettings reads the single attendance_settings row.
type SQLSettings struct {
	db *sqlx.DB
}

func NewSQLSettings(db *sqlx.DB) *SQLSettings {
	return &SQLSettings{db: db}
}

// Settings returns the stored settings, or the defaults when the row is missing.
func (p *SQLSettings) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	err := p.db.GetContext(ctx, &s, `
		SELECT start_time, end_time, late_threshold_minutes
		FROM attendance_settings
		ORDER BY id
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return s.Normalize(), nil
}

// Save replaces the settings row.
func (p *SQLSettings) Save(ctx context.Context, s Settings) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`
		INSERT INTO attendance_settings (id, start_time, end_time, late_threshold_minutes)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			late_threshold_minutes = EXCLUDED.late_threshold_minutes
	`), s.StartTime, s.EndTime, s.LateThresholdMinutes)
	return err
}

// CachedSettings keeps the settings in Redis for ttl in front of another provider.
// Redis errors fall through to the wrapped provider.
type CachedSettings struct {
	next SettingsProvider
	rdb  *redis.Client
	key  string
	ttl  time.Duration
}

func NewCachedSettings(next SettingsProvider, rdb *redis.Client, ttl time.Duration) *CachedSettings {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedSettings{next: next, rdb: rdb, key: "rollcall:settings", ttl: ttl}
}

func (c *CachedSettings) Settings(ctx context.Context) (Settings, error) {
	if c.rdb == nil {
		return c.next.Settings(ctx)
	}
	log := logging.Logger("settings")

	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		var s Settings
		if jerr := json.Unmarshal(raw, &s); jerr == nil {
			return s.Normalize(), nil
		}
		log.Warn().Str("key", c.key).Msg("discarding undecodable cached settings")
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Msg("settings cache read failed")
	}

	s, err := c.next.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if b, err := json.Marshal(s); err == nil {
		if err := c.rdb.Set(ctx, c.key, b, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("settings cache write failed")
		}
	}
	return s, nil
}

// Invalidate drops the cached copy.
func (c *CachedSettings) Invalidate(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, c.key).Err()
}
