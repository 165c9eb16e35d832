package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"rollcall/internal/logging"
)

// Job is a scheduled task. Run gets a context bounded by Timeout.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	// Quiet reports errors that only mean there was nothing to do.
	Quiet func(error) bool
}

// NewScheduler registers jobs on a cron that evaluates specs in loc and never overlaps
// runs of the same job. The caller starts and stops it.
func NewScheduler(loc *time.Location, jobs ...Job) (*cron.Cron, error) {
	logger := cronLogger{log: logging.Logger("cron")}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, job := range jobs {
		if _, err := c.AddFunc(job.Spec, job.wrap()); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.Name, job.Spec, err)
		}
	}
	return c, nil
}

func (j Job) wrap() func() {
	return func() {
		log := logging.Logger("cron")
		timeout := j.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		err := j.Run(ctx)
		switch {
		case err == nil:
			log.Info().Str("job", j.Name).Dur("took", time.Since(start)).Msg("job done")
		case j.Quiet != nil && j.Quiet(err):
			log.Debug().Str("job", j.Name).Str("reason", err.Error()).Msg("job skipped")
		default:
			log.Error().Err(err).Str("job", j.Name).Msg("job failed")
		}
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
