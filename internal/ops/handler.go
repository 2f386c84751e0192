// Package ops is the admin HTTP surface: router telemetry, the durable usage
// log, direct job enqueue for testing, and job inspection. It reads state
// the core already keeps; nothing here sits on the posting path.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vnmchuo/botfleet/internal/fleet"
	"github.com/vnmchuo/botfleet/internal/jobstore"
	"github.com/vnmchuo/botfleet/internal/queue"
	"github.com/vnmchuo/botfleet/internal/telemetry"
	"github.com/vnmchuo/botfleet/internal/usage"
)

// Enqueuer is the slice of the queue the ops surface needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind jobstore.Kind, botID string, payload any, opts ...queue.Option) (*jobstore.Job, error)
}

type Handler struct {
	rec   *telemetry.Recorder
	usage usage.Store
	jobs  jobstore.Store
	queue Enqueuer
	fleet fleet.Store
}

func NewHandler(rec *telemetry.Recorder, usageStore usage.Store, jobs jobstore.Store, q Enqueuer, fleetStore fleet.Store) *Handler {
	return &Handler{rec: rec, usage: usageStore, jobs: jobs, queue: q, fleet: fleetStore}
}

// HandleStats returns the telemetry recorder's aggregate view.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rec.Stats())
}

// HandleUsage returns the durable usage log for one bot over a time range,
// defaulting to the last 30 days.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	botID := r.URL.Query().Get("bot_id")
	if botID == "" {
		writeError(w, http.StatusBadRequest, "bot_id is required")
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
	}

	logs, err := h.usage.GetUsageByBot(ctx, botID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totalCents, err := h.usage.GetTotalCostByBot(ctx, botID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bot_id":           botID,
		"total_calls":      len(logs),
		"total_cost_cents": totalCents,
		"logs":             logs,
		"from":             from,
		"to":               to,
	})
}

type enqueueRequest struct {
	Kind        string          `json:"kind"`
	BotID       string          `json:"bot_id"`
	Payload     json.RawMessage `json:"payload"`
	RunAt       *time.Time      `json:"run_at"`
	MaxAttempts int             `json:"max_attempts"`
}

// HandleEnqueueJob creates a job directly, bypassing the scheduler. Used for
// ops testing and one-off runs.
func (h *Handler) HandleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	var opts []queue.Option
	if req.RunAt != nil {
		opts = append(opts, queue.WithRunAt(*req.RunAt))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, queue.WithMaxAttempts(req.MaxAttempts))
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	job, err := h.queue.Enqueue(r.Context(), jobstore.Kind(req.Kind), req.BotID, payload, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// HandleGetJob returns one job by id.
func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleListBots returns the fleet roster.
func (h *Handler) HandleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.fleet.ListBots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": bots, "count": len(bots)})
}
