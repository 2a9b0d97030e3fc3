package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/slotboard/internal/models"
	syncpkg "github.com/kimhsiao/slotboard/internal/sync"
)

// BoardHandler handles schedule records and admins.
type BoardHandler struct {
	engine *syncpkg.SyncEngine
}

// NewBoardHandler creates a new BoardHandler.
func NewBoardHandler(engine *syncpkg.SyncEngine) *BoardHandler {
	return &BoardHandler{engine: engine}
}

// Routes registers the board endpoints under r.
func (h *BoardHandler) Routes(r chi.Router) {
	r.Get("/records", h.ListRecords)
	r.Post("/records", h.SaveRecord)
	r.Delete("/records/{recordID}", h.DeleteRecord)
	r.Put("/owners/{ownerID}", h.RenameOwner)
	r.Get("/admins", h.ListAdmins)
	r.Delete("/admins/{username}", h.DeleteAdmin)
	r.Put("/admins/{username}/secret", h.SetAdminSecret)
}

// ListRecords handles GET /records
func (h *BoardHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.Records(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []models.ScheduleRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// SaveRecord handles POST /records. A body without id creates a record.
func (h *BoardHandler) SaveRecord(w http.ResponseWriter, r *http.Request) {
	var rec models.ScheduleRecord
	if !decodeJSON(w, r, &rec) {
		return
	}
	saved, err := h.engine.AddRecord(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// DeleteRecord handles DELETE /records/{recordID}
func (h *BoardHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteRecord(r.Context(), chi.URLParam(r, "recordID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameOwner handles PUT /owners/{ownerID}
func (h *BoardHandler) RenameOwner(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}
	if err := h.engine.RenameOwner(r.Context(), chi.URLParam(r, "ownerID"), request.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAdmins handles GET /admins. Secrets are never returned.
func (h *BoardHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.engine.Admins(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type adminView struct {
		models.AdminProfile
		NeedsSecretReset bool `json:"needsSecretReset"`
	}
	out := make([]adminView, 0, len(admins))
	for _, a := range admins {
		out = append(out, adminView{AdminProfile: a.RemoteView(), NeedsSecretReset: !a.HasUsableSecret()})
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteAdmin handles DELETE /admins/{username}
func (h *BoardHandler) DeleteAdmin(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteAdmin(r.Context(), chi.URLParam(r, "username")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAdminSecret handles PUT /admins/{username}/secret
func (h *BoardHandler) SetAdminSecret(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Secret string `json:"secret"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}
	if err := h.engine.SetAdminSecret(r.Context(), chi.URLParam(r, "username"), request.Secret); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
