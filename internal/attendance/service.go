package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"rollcall/internal/logging"
	"rollcall/internal/metrics"
)

// Enqueuer receives records produced offline for transmission to the server.
type Enqueuer interface {
	Enqueue(recs ...Record)
}

// Service turns scan events into daily attendance records.
type Service struct {
	repo     *Repository
	ledger   *Ledger
	settings SettingsProvider
	roster   Roster
	loc      *time.Location
	clock    quartz.Clock
	queue    Enqueuer
	metrics  *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for defaulted scan timestamps.
func WithClock(c quartz.Clock) Option { return func(s *Service) { s.clock = c } }

// WithQueue attaches the sync queue that receives offline records.
func WithQueue(q Enqueuer) Option { return func(s *Service) { s.queue = q } }

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService wires the processor. loc defines calendar days and clock times.
func NewService(repo *Repository, ledger *Ledger, settings SettingsProvider, roster Roster, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		repo:     repo,
		ledger:   ledger,
		settings: settings,
		roster:   roster,
		loc:      loc,
		clock:    quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the zone calendar days are computed in.
func (s *Service) Location() *time.Location { return s.loc }

// Scan is the live entry point: it verifies the subject against the roster unless the
// event was produced offline, then processes it.
func (s *Service) Scan(ctx context.Context, evt ScanEvent) (Record, error) {
	if err := evt.Subject.Validate(); err != nil {
		return Record{}, err
	}
	if !evt.Offline {
		ok, err := s.roster.Exists(ctx, evt.Subject)
		if err != nil {
			return Record{}, err
		}
		if !ok {
			return Record{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, evt.Subject.Key())
		}
	}
	return s.Process(ctx, evt)
}

// Process classifies the event, seeds the day on its first scan and merges the result
// into the subject's same-day record. Any storage error aborts and is returned.
func (s *Service) Process(ctx context.Context, evt ScanEvent) (Record, error) {
	if err := evt.Subject.Validate(); err != nil {
		return Record{}, err
	}
	if evt.Method != Manual && evt.Method != FaceRecognition {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidMethod, evt.Method)
	}
	if evt.Method != FaceRecognition {
		evt.MatchConfidence = nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock.Now()
	}

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("load settings: %w", err)
	}
	status := Classify(evt.Timestamp, settings, s.loc)
	day := DayOf(evt.Timestamp, s.loc)

	if _, err := s.ledger.EnsureDay(ctx, day); err != nil {
		return Record{}, fmt.Errorf("seed day %s: %w", day.Key, err)
	}

	rec, err := s.repo.Merge(ctx, MergeInput{
		Subject:         evt.Subject,
		Day:             day,
		Timestamp:       evt.Timestamp,
		Status:          status,
		Method:          evt.Method,
		MatchConfidence: evt.MatchConfidence,
		Offline:         evt.Offline,
	})
	if err != nil {
		return Record{}, fmt.Errorf("merge scan for %s: %w", evt.Subject.Key(), err)
	}
	s.metrics.ObserveScan(string(status), string(evt.Method))

	logging.Logger("processor").Debug().
		Str("subject", evt.Subject.Key()).
		Str("day", day.Key).
		Str("classified", string(status)).
		Str("stored", string(rec.Status)).
		Bool("offline", evt.Offline).
		Msg("scan merged")

	if evt.Offline && s.queue != nil {
		s.queue.Enqueue(rec)
	}
	return rec, nil
}

// Now is the time stamped on events that arrive without one.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Today returns the current calendar day.
func (s *Service) Today() Day {
	return DayOf(s.Now(), s.loc)
}
