package syncingest

import (
	"context"
	"errors"

	"rollcall/internal/attendance"
	"rollcall/internal/logging"
	"rollcall/internal/metrics"
)

// Result statuses reported per ingested record.
const (
	StatusSynced    = "synced"
	StatusDuplicate = "duplicate"
	StatusError     = "error"
)

// Result is the outcome for one client record, in input order.
type Result struct {
	ClientUUID string `json:"client_uuid"`
	Status     string `json:"status"`
	ID         int64  `json:"id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Store is the persistence the ingester needs.
type Store interface {
	GetByClientUUID(ctx context.Context, clientUUID string) (attendance.Record, error)
	InsertIfAbsent(ctx context.Context, rec attendance.Record) (attendance.Record, bool, error)
}

// Ingester upserts client-originated records keyed by their client_uuid.
type Ingester struct {
	store   Store
	metrics *metrics.Metrics
}

func New(store Store, m *metrics.Metrics) *Ingester {
	return &Ingester{store: store, metrics: m}
}

// Ingest stores each record unless its client_uuid is already known. Records are handled
// independently; a failure is reported in that record's result and the batch continues.
func (i *Ingester) Ingest(ctx context.Context, recs []attendance.Record) []Result {
	log := logging.Logger("syncingest")
	results := make([]Result, 0, len(recs))
	for _, rec := range recs {
		res := i.one(ctx, rec)
		if res.Status == StatusError {
			log.Warn().Str("client_uuid", rec.ClientUUID).Str("error", res.Error).Msg("ingest record failed")
		}
		i.metrics.ObserveIngest(res.Status)
		results = append(results, res)
	}
	log.Debug().Int("records", len(recs)).Msg("ingest batch handled")
	return results
}

func (i *Ingester) one(ctx context.Context, rec attendance.Record) Result {
	res := Result{ClientUUID: rec.ClientUUID}
	if err := rec.Validate(); err != nil {
		res.Status, res.Error = StatusError, err.Error()
		return res
	}

	existing, err := i.store.GetByClientUUID(ctx, rec.ClientUUID)
	switch {
	case err == nil:
		res.Status, res.ID = StatusDuplicate, existing.ID
		return res
	case !errors.Is(err, attendance.ErrRecordNotFound):
		res.Status, res.Error = StatusError, err.Error()
		return res
	}

	rec.Synced = true
	rec.Syncing = false
	stored, inserted, err := i.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		res.Status, res.Error = StatusError, err.Error()
		return res
	}
	res.ID = stored.ID
	res.Status = StatusSynced
	if !inserted {
		// Lost a race with a concurrent ingest of the same record.
		res.Status = StatusDuplicate
	}
	return res
}
