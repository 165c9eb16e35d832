// Package handler exposes the attendance and sync operations over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/syncingest"
)

// Reconciler pushes locally unsynced records upstream.
type Reconciler interface {
	Run(ctx context.Context) (int, error)
}

// Ingester stores records received from other nodes.
type Ingester interface {
	Ingest(ctx context.Context, recs []attendance.Record) []syncingest.Result
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck = func(ctx context.Context) bool

// Deps are the collaborators behind the routes. Reconciler and Work may be nil.
type Deps struct {
	Service    *attendance.Service
	Records    *attendance.Repository
	Ingester   Ingester
	Reconciler Reconciler
	Work       queue.Queue
	Checks     map[string]HealthCheck
}

// Auth holds the per-audience middleware. Nil entries leave the routes open.
type Auth struct {
	Device gin.HandlerFunc
	Node   gin.HandlerFunc
}

type Handler struct {
	Deps
}

func New(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter, auth Auth) {
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1", middleware(auth.Device)...)
	v1.POST("/scans", h.scan)
	v1.POST("/scans/face", h.faceScan)
	v1.GET("/attendance", h.listAttendance)

	peers := r.Group("/v1/sync", middleware(auth.Node)...)
	peers.POST("/records", h.ingestRecords)
	peers.GET("/unsynced", h.unsynced)
	peers.POST("/reconcile", h.reconcile)
}

func middleware(m gin.HandlerFunc) []gin.HandlerFunc {
	if m == nil {
		return nil
	}
	return []gin.HandlerFunc{m}
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"status": "error", "message": message})
}

// failErr maps domain errors to statuses; anything unrecognised is a 500 and is logged.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrSubjectNotFound), errors.Is(err, attendance.ErrRecordNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, attendance.ErrInvalidSubject),
		errors.Is(err, attendance.ErrInvalidMethod),
		errors.Is(err, attendance.ErrInvalidStatus):
		fail(c, http.StatusBadRequest, err.Error())
	default:
		logging.Logger("http").Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		fail(c, http.StatusInternalServerError, "internal error")
	}
}
