package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	syncpkg "github.com/kimhsiao/slotboard/internal/sync"
	"github.com/kimhsiao/slotboard/internal/sync/scheduler"
	"github.com/kimhsiao/slotboard/internal/telemetry"
)

// SyncHandler handles sync status and control.
type SyncHandler struct {
	engine    *syncpkg.SyncEngine
	scheduler *scheduler.Scheduler
	metrics   *telemetry.Collector
}

// NewSyncHandler creates a new SyncHandler. metrics may be nil.
func NewSyncHandler(engine *syncpkg.SyncEngine, sched *scheduler.Scheduler, metrics *telemetry.Collector) *SyncHandler {
	return &SyncHandler{engine: engine, scheduler: sched, metrics: metrics}
}

// Routes registers the sync endpoints under r.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Post("/now", h.SyncNow)
	r.Post("/visible", h.Visible)
	r.Post("/enabled", h.Enable)
	r.Delete("/enabled", h.Disable)
	r.Put("/auto-upload", h.SetAutoUpload)
	r.Get("/parked", h.ListParked)
	r.Get("/conflicts", h.ListConflicts)
	r.Get("/queue", h.ListQueue)
	r.Get("/metrics", h.GetMetrics)
	r.Put("/credential", h.SetCredential)
	r.Post("/credential/test", h.TestCredential)
	r.Delete("/credential", h.ClearCredential)
}

// GetStatus handles GET /sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":    h.engine.Status(),
		"scheduler": h.scheduler.GetStatus(),
		"queue":     h.engine.Queue().Stats(),
	})
}

// SyncNow handles POST /sync/now. It runs the cycle and waits for it.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncSkipped) || apperrors.Is(err, apperrors.ErrSyncDisabled) {
			writeJSON(w, http.StatusAccepted, result)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Visible handles POST /sync/visible, sent when the window regains focus.
func (h *SyncHandler) Visible(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"started": h.scheduler.OnVisible()})
}

// Enable handles POST /sync/enabled
func (h *SyncHandler) Enable(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.EnableSync(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": true})
}

// Disable handles DELETE /sync/enabled
func (h *SyncHandler) Disable(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DisableSync(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
}

// SetAutoUpload handles PUT /sync/auto-upload
func (h *SyncHandler) SetAutoUpload(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}
	if err := h.engine.SetAutoUpload(r.Context(), request.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"autoUpload": request.Enabled})
}

// ListParked handles GET /sync/parked
func (h *SyncHandler) ListParked(w http.ResponseWriter, r *http.Request) {
	parked, err := h.engine.ParkedWrites(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, parked)
}

// ListConflicts handles GET /sync/conflicts
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ConflictHistory())
}

// ListQueue handles GET /sync/queue
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Queue().List())
}

// GetMetrics handles GET /sync/metrics
func (h *SyncHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusOK, telemetry.NewCollector().Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

type credentialRequest struct {
	Token string `json:"token"`
}

// SetCredential handles PUT /sync/credential
func (h *SyncHandler) SetCredential(w http.ResponseWriter, r *http.Request) {
	var request credentialRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	if err := h.engine.SetCredential(r.Context(), request.Token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "saved"})
}

// TestCredential handles POST /sync/credential/test
func (h *SyncHandler) TestCredential(w http.ResponseWriter, r *http.Request) {
	var request credentialRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	if err := h.engine.TestCredential(r.Context(), request.Token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}

// ClearCredential handles DELETE /sync/credential
func (h *SyncHandler) ClearCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearCredential(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared"})
}
