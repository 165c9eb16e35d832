// Package syncqueue pushes locally produced attendance records to an upstream node.
package syncqueue

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"rollcall/internal/attendance"
	"rollcall/internal/logging"
	"rollcall/internal/metrics"
	"rollcall/internal/syncingest"
)

// Sender transmits a batch and returns one result per record.
type Sender interface {
	Send(ctx context.Context, recs []attendance.Record) ([]syncingest.Result, error)
}

// Marker persists the transmission flags of local records.
type Marker interface {
	MarkSyncing(ctx context.Context, clientUUID string) error
	MarkSynced(ctx context.Context, clientUUID string) error
	ClearSyncing(ctx context.Context, clientUUID string) error
}

// Config tunes batching and retry.
type Config struct {
	BatchSize  int
	Timeout    time.Duration
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}
	return c
}

// Queue buffers records and flushes them in batches, one flush at a time. A failed batch
// is not requeued: its records stay unsynced in storage and are recovered by the
// reconciler. After a failure the retry timer restarts flushing of whatever is still
// buffered; an enqueue in the meantime starts a flush right away.
type Queue struct {
	store   Marker
	sender  Sender
	clock   quartz.Clock
	cfg     Config
	metrics *metrics.Metrics

	mu       sync.Mutex
	buf      []attendance.Record
	flushing bool
	retry    *quartz.Timer
	closed   bool
	wg       sync.WaitGroup
}

// New creates a queue. A nil clock uses wall time.
func New(store Marker, sender Sender, clock quartz.Clock, cfg Config, m *metrics.Metrics) *Queue {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Queue{
		store:   store,
		sender:  sender,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		metrics: m,
	}
}

// Enqueue appends records to the buffer and starts a flush if none is running.
func (q *Queue) Enqueue(recs ...attendance.Record) {
	if len(recs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		logging.Logger("syncqueue").Warn().Int("records", len(recs)).Msg("enqueue after close dropped")
		return
	}
	q.buf = append(q.buf, recs...)
	q.metrics.SetQueueDepth(len(q.buf))
	q.kickLocked()
}

// Len returns the number of buffered records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Close stops the retry timer and waits for a running flush to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	if q.retry != nil {
		q.retry.Stop()
		q.retry = nil
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) kickLocked() {
	if q.closed || q.flushing || len(q.buf) == 0 {
		return
	}
	q.flushing = true
	q.wg.Add(1)
	go q.run()
}

func (q *Queue) onRetry() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retry = nil
	q.kickLocked()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.buf) == 0 {
			q.flushing = false
			q.mu.Unlock()
			return
		}
		n := min(len(q.buf), q.cfg.BatchSize)
		batch := make([]attendance.Record, n)
		copy(batch, q.buf[:n])
		q.buf = q.buf[n:]
		q.metrics.SetQueueDepth(len(q.buf))
		q.mu.Unlock()

		if err := q.flush(batch); err != nil {
			q.mu.Lock()
			q.flushing = false
			if q.retry != nil {
				q.retry.Stop()
			}
			if !q.closed {
				q.retry = q.clock.AfterFunc(q.cfg.RetryDelay, q.onRetry, "syncqueue", "retry")
			}
			q.mu.Unlock()
			return
		}
	}
}

func (q *Queue) flush(batch []attendance.Record) error {
	log := logging.Logger("syncqueue")
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
	defer cancel()

	for _, rec := range batch {
		if err := q.store.MarkSyncing(ctx, rec.ClientUUID); err != nil {
			log.Warn().Err(err).Str("client_uuid", rec.ClientUUID).Msg("mark syncing failed")
		}
	}

	results, err := q.sender.Send(ctx, batch)
	if err != nil {
		q.metrics.ObserveFlush("failure")
		log.Error().Err(err).Int("records", len(batch)).Dur("retry_in", q.cfg.RetryDelay).Msg("sync flush failed")
		// Fresh context: the send may have consumed the deadline.
		clearCtx, clearCancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
		defer clearCancel()
		for _, rec := range batch {
			if err := q.store.ClearSyncing(clearCtx, rec.ClientUUID); err != nil {
				log.Warn().Err(err).Str("client_uuid", rec.ClientUUID).Msg("clear syncing failed")
			}
		}
		return err
	}

	q.metrics.ObserveFlush("success")
	applyResults(ctx, q.store, batch, results, q.metrics)
	log.Debug().Int("records", len(batch)).Msg("sync batch flushed")
	return nil
}

// applyResults marks accepted records synced and releases the rest for a later attempt.
// Records the upstream did not answer for count as errors.
func applyResults(ctx context.Context, store Marker, batch []attendance.Record, results []syncingest.Result, m *metrics.Metrics) {
	log := logging.Logger("syncqueue")
	byUUID := make(map[string]syncingest.Result, len(results))
	for _, res := range results {
		byUUID[res.ClientUUID] = res
	}
	for _, rec := range batch {
		res, ok := byUUID[rec.ClientUUID]
		if !ok {
			res = syncingest.Result{ClientUUID: rec.ClientUUID, Status: syncingest.StatusError, Error: "no result from upstream"}
		}
		m.ObserveFlushed(res.Status)

		var err error
		switch res.Status {
		case syncingest.StatusSynced, syncingest.StatusDuplicate:
			err = store.MarkSynced(ctx, rec.ClientUUID)
		default:
			log.Warn().Str("client_uuid", rec.ClientUUID).Str("error", res.Error).Msg("upstream rejected record")
			err = store.ClearSyncing(ctx, rec.ClientUUID)
		}
		if err != nil {
			log.Warn().Err(err).Str("client_uuid", rec.ClientUUID).Msg("update sync state failed")
		}
	}
}
