package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
)

type scanRequest struct {
	SubjectID       string     `json:"subject_id" binding:"required"`
	SubjectType     string     `json:"subject_type" binding:"required"`
	Method          string     `json:"method"`
	MatchConfidence *float64   `json:"match_confidence"`
	Timestamp       *time.Time `json:"timestamp"`
	Offline         bool       `json:"offline"`
}

func (h *Handler) scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	evt := attendance.ScanEvent{
		Subject:         attendance.Subject{ID: req.SubjectID, Type: attendance.SubjectType(req.SubjectType)},
		Method:          attendance.Method(req.Method),
		MatchConfidence: req.MatchConfidence,
		Offline:         req.Offline,
	}
	if evt.Method == "" {
		evt.Method = attendance.Manual
	}
	if req.Timestamp != nil {
		evt.Timestamp = *req.Timestamp
	}

	rec, err := h.Service.Scan(c.Request.Context(), evt)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": rec})
}

type faceScanRequest struct {
	SubjectID   string     `json:"subject_id" binding:"required"`
	SubjectType string     `json:"subject_type" binding:"required"`
	ImageURL    string     `json:"image_url" binding:"required"`
	Timestamp   *time.Time `json:"timestamp"`
	Offline     bool       `json:"offline"`
}

// faceScan hands the image to the worker; the record is written once the face is verified.
func (h *Handler) faceScan(c *gin.Context) {
	if h.Work == nil {
		fail(c, http.StatusServiceUnavailable, "face scanning not configured")
		return
	}
	var req faceScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	scan := queue.FaceScan{
		Subject:  attendance.Subject{ID: req.SubjectID, Type: attendance.SubjectType(req.SubjectType)},
		ImageURL: req.ImageURL,
		Offline:  req.Offline,
	}
	if err := scan.Subject.Validate(); err != nil {
		failErr(c, err)
		return
	}
	scan.Timestamp = h.Service.Now()
	if req.Timestamp != nil {
		scan.Timestamp = *req.Timestamp
	}

	msg, err := queue.NewFaceScan(scan)
	if err != nil {
		failErr(c, err)
		return
	}
	if err := h.Work.Publish(c.Request.Context(), msg); err != nil {
		logging.Logger("http").Error().Err(err).Str("subject", scan.Subject.Key()).Msg("queue publish failed")
		fail(c, http.StatusServiceUnavailable, "scan queue unavailable")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "subject": scan.Subject, "timestamp": scan.Timestamp})
}

func (h *Handler) listAttendance(c *gin.Context) {
	loc := h.Service.Location()
	day := h.Service.Today()
	if v := c.Query("day"); v != "" {
		parsed, err := attendance.ParseDay(v, loc)
		if err != nil {
			fail(c, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	f := attendance.ListFilter{
		Day:         day,
		SubjectType: attendance.SubjectType(c.Query("subject_type")),
		SubjectID:   c.Query("subject_id"),
		Status:      attendance.Status(c.Query("status")),
		Limit:       50,
	}
	if f.SubjectType != "" && !f.SubjectType.Valid() {
		fail(c, http.StatusBadRequest, "unknown subject_type")
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		fail(c, http.StatusBadRequest, "unknown status")
		return
	}
	var ok bool
	if f.Limit, ok = intQuery(c, "limit", f.Limit); !ok {
		return
	}
	if f.Offset, ok = intQuery(c, "offset", 0); !ok {
		return
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	recs, err := h.Records.ListDay(c.Request.Context(), f)
	if err != nil {
		failErr(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"day": day.Key, "records": recs, "count": len(recs)})
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
