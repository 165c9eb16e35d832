package handler

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"rollcall/internal/attendance"
	"rollcall/internal/logging"
	"rollcall/internal/syncingest"
	"rollcall/internal/syncqueue"
)

const unsyncedPageSize = 100

// ingestRecords accepts a JSON array of records pushed by another node. Entries that do
// not decode get an error result; the rest go through the ingester. Results keep input order.
func (h *Handler) ingestRecords(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable body")
		return
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '[' {
		fail(c, http.StatusBadRequest, "records must be a JSON array")
		return
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		fail(c, http.StatusBadRequest, "records must be a JSON array")
		return
	}
	if len(raws) == 0 {
		fail(c, http.StatusBadRequest, "records must not be empty")
		return
	}

	results := make([]syncingest.Result, len(raws))
	decoded := make([]attendance.Record, 0, len(raws))
	positions := make([]int, 0, len(raws))
	for i, raw := range raws {
		var rec attendance.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			results[i] = syncingest.Result{ClientUUID: peekClientUUID(raw), Status: syncingest.StatusError, Error: "malformed record: " + err.Error()}
			continue
		}
		decoded = append(decoded, rec)
		positions = append(positions, i)
	}
	for j, res := range h.Ingester.Ingest(c.Request.Context(), decoded) {
		results[positions[j]] = res
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func peekClientUUID(raw json.RawMessage) string {
	var probe struct {
		ClientUUID string `json:"client_uuid"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.ClientUUID
}

func (h *Handler) unsynced(c *gin.Context) {
	recs, err := h.Records.ListUnsynced(c.Request.Context(), unsyncedPageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

func (h *Handler) reconcile(c *gin.Context) {
	if h.Reconciler == nil {
		fail(c, http.StatusServiceUnavailable, "no sync upstream configured")
		return
	}
	n, err := h.Reconciler.Run(c.Request.Context())
	switch {
	case errors.Is(err, syncqueue.ErrNothingToSync):
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "no unsynced records"})
	case err != nil:
		logging.Logger("http").Error().Err(err).Msg("manual reconcile failed")
		fail(c, http.StatusBadGateway, err.Error())
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "pushed": n})
	}
}
