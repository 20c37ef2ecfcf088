package intake

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meetingsync/internal/models"
)

// Handler exposes Intake's operations as HTTP endpoints (spec §6 "HTTP
// boundary").
type Handler struct {
	intake *Intake
}

// NewHandler wraps an Intake for HTTP serving.
func NewHandler(in *Intake) *Handler {
	return &Handler{intake: in}
}

// Webhook serves POST /webhook.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	result := h.intake.HandleWebhook(r.Context(), r.Header.Get("authorization"), body)
	writeResult(w, result)
}

type manualRequest struct {
	RecordingUUID string             `json:"recording_uuid"`
	Params        manualParamsWire   `json:"params"`
	DurCheck      bool               `json:"dur_check"`
}

type manualParamsWire struct {
	WorkflowID string            `json:"workflow_id"`
	ACLID      string            `json:"acl_id"`
	SeriesID   string            `json:"series_id"`
	Title      string            `json:"title"`
	DateTime   time.Time         `json:"date_time"`
	Duration   int               `json:"duration"`
	Creator    string            `json:"creator"`
	DC         map[string]string `json:"dc"`
	Extension  map[string]string `json:"extension"`
}

func (p manualParamsWire) toModel() models.IngestParams {
	return models.IngestParams{
		WorkflowID: p.WorkflowID,
		ACLID:      p.ACLID,
		SeriesID:   p.SeriesID,
		Title:      p.Title,
		DateTime:   p.DateTime,
		Duration:   p.Duration,
		Creator:    p.Creator,
		DC:         p.DC,
		Extension:  p.Extension,
	}
}

// RecordingByID serves POST /recording/{id}: a single manual ingest.
func (h *Handler) RecordingByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uuid := strings.TrimPrefix(r.URL.Path, "/recording/")
	if uuid == "" {
		http.Error(w, "missing recording id", http.StatusBadRequest)
		return
	}
	var req manualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	id, err := h.intake.IngestManual(r.Context(), uuid, req.Params.toModel(), req.DurCheck)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingest_id": id})
}

type bulkRequest struct {
	EventIDs []string         `json:"event_ids"`
	Params   manualParamsWire `json:"params"`
	DurCheck bool             `json:"dur_check"`
}

// Bulk serves POST /bulk.
func (h *Handler) Bulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	results := h.intake.IngestBulk(r.Context(), req.EventIDs, req.Params.toModel(), req.DurCheck)
	writeJSON(w, http.StatusOK, results)
}

// Cancel serves GET/POST /cancel?id=.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid id", http.StatusBadRequest)
		return
	}
	if err := h.intake.Cancel(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": id})
}

// Delete is an alias for Cancel: the human-facing surface exposes both verbs
// for the same underlying row removal (spec §6).
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.Cancel(w, r)
}

func writeResult(w http.ResponseWriter, result Result) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(result.Status)
	_, _ = w.Write([]byte(result.Message))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
