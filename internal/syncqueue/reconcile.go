package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/logging"
	"rollcall/internal/metrics"
)

// ErrNothingToSync is returned by Run when no record is waiting for transmission.
var ErrNothingToSync = errors.New("no unsynced records")

// UnsyncedLister is the local store the reconciler pulls from.
type UnsyncedLister interface {
	Marker
	ListUnsynced(ctx context.Context, limit int) ([]attendance.Record, error)
}

// Reconciler pushes records that never reached upstream, in batches of up to 100.
type Reconciler struct {
	store   UnsyncedLister
	sender  Sender
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewReconciler(store UnsyncedLister, sender Sender, timeout time.Duration, m *metrics.Metrics) *Reconciler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reconciler{store: store, sender: sender, timeout: timeout, metrics: m}
}

// Run sends one page of unsynced records and returns how many were pushed.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	recs, err := r.store.ListUnsynced(ctx, 100)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, ErrNothingToSync
	}

	log := logging.Logger("reconciler")
	for _, rec := range recs {
		if err := r.store.MarkSyncing(ctx, rec.ClientUUID); err != nil {
			log.Warn().Err(err).Str("client_uuid", rec.ClientUUID).Msg("mark syncing failed")
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	results, err := r.sender.Send(sendCtx, recs)
	if err != nil {
		r.metrics.ObserveFlush("failure")
		for _, rec := range recs {
			if clearErr := r.store.ClearSyncing(ctx, rec.ClientUUID); clearErr != nil {
				log.Warn().Err(clearErr).Str("client_uuid", rec.ClientUUID).Msg("clear syncing failed")
			}
		}
		return 0, fmt.Errorf("push %d unsynced records: %w", len(recs), err)
	}
	r.metrics.ObserveFlush("success")
	applyResults(ctx, r.store, recs, results, r.metrics)
	log.Info().Int("records", len(recs)).Msg("unsynced records pushed")
	return len(recs), nil
}
