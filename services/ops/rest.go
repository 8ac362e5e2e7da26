// Package ops is the operational HTTP surface: backlog submission and
// inspection, agent roster management, runtime config, and queue controls.
package ops

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
	"github.com/ramiqadoumi/go-dial-flow/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/pkg/clock"
	"github.com/ramiqadoumi/go-dial-flow/services/scheduler"
)

// SchedulerControl is the slice of the scheduler runtime the ops surface
// needs.
type SchedulerControl interface {
	Status() scheduler.Status
	Ready() bool
	EmptyQueue(name string) bool
}

// REST handles the ops API.
type REST struct {
	control SchedulerControl
	items   postgres.CallQueueRepository
	history postgres.CallHistoryRepository
	agents  redisstore.AgentDirectory
	config  redisstore.ConfigStore
	clk     clock.Clock
	logger  *slog.Logger
}

func NewREST(
	control SchedulerControl,
	items postgres.CallQueueRepository,
	history postgres.CallHistoryRepository,
	agents redisstore.AgentDirectory,
	config redisstore.ConfigStore,
	clk clock.Clock,
	logger *slog.Logger,
) *REST {
	return &REST{
		control: control,
		items:   items,
		history: history,
		agents:  agents,
		config:  config,
		clk:     clk,
		logger:  logger.With(slog.String("component", "ops")),
	}
}

// Routes builds the chi router for the ops API.
func (h *REST) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.logger))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)

		r.Post("/queue", h.EnqueueCall)
		r.Get("/queue", h.ListQueue)
		r.Get("/queue/{id}", h.GetQueueItem)

		r.Get("/history", h.ListHistory)

		r.Get("/agents", h.ListAgents)
		r.Put("/agents/{id}", h.UpsertAgent)

		r.Get("/config", h.ListConfig)
		r.Put("/config/{key}", h.SetConfig)

		r.Post("/queues/{name}/empty", h.EmptyQueue)
	})
	return r
}

// EnqueueCallRequest is the JSON body for POST /api/v1/queue.
type EnqueueCallRequest struct {
	ClientID     string     `json:"client_id"`
	PhoneNumber  string     `json:"phone_number"`
	Priority     int        `json:"priority"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// EnqueueCall handles POST /api/v1/queue: adds one number to the backlog.
func (h *REST) EnqueueCall(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("dialflow-ops").Start(r.Context(), "ops.enqueue_call")
	defer span.End()

	var req EnqueueCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, http.StatusBadRequest, "field 'client_id' is required")
		return
	}
	if !domain.ValidE164(req.PhoneNumber) {
		writeError(w, http.StatusBadRequest, "field 'phone_number' must be E.164")
		return
	}

	now := h.clk.Now().UTC()
	scheduledFor := now
	if req.ScheduledFor != nil {
		scheduledFor = req.ScheduledFor.UTC()
	}

	item := &domain.CallQueueItem{
		ID:           uuid.New().String(),
		ClientID:     req.ClientID,
		PhoneNumber:  req.PhoneNumber,
		Status:       domain.ItemPending,
		Priority:     req.Priority,
		ScheduledFor: scheduledFor,
		Notes:        req.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	span.SetAttributes(
		attribute.String("queue_item.id", item.ID),
		attribute.String("queue_item.client_id", item.ClientID),
	)

	if err := h.items.Create(ctx, item); err != nil {
		h.logger.Error("create queue item", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create queue item")
		return
	}

	h.logger.Info("queue item created",
		slog.String("queue_item_id", item.ID),
		slog.String("client_id", item.ClientID))
	writeJSON(w, http.StatusAccepted, item)
}

// GetQueueItem handles GET /api/v1/queue/{id}.
func (h *REST) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := h.items.GetByID(r.Context(), id)
	if err != nil {
		var notFound *domain.ItemNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "queue item not found")
			return
		}
		h.logger.Error("get queue item", slog.String("queue_item_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve queue item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

const defaultListLimit = 100

// ListQueue handles GET /api/v1/queue?status=pending.
func (h *REST) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := domain.ItemStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.ItemPending
	}
	items, err := h.items.ListByStatus(r.Context(), status, defaultListLimit)
	if err != nil {
		h.logger.Error("list queue items", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list queue items")
		return
	}
	if items == nil {
		items = []*domain.CallQueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// ListHistory handles GET /api/v1/history.
func (h *REST) ListHistory(w http.ResponseWriter, r *http.Request) {
	calls, err := h.history.ListRecent(r.Context(), defaultListLimit)
	if err != nil {
		h.logger.Error("list call history", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list call history")
		return
	}
	if calls == nil {
		calls = []*domain.CallHistory{}
	}
	writeJSON(w, http.StatusOK, calls)
}

// ListAgents handles GET /api/v1/agents.
func (h *REST) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.List(r.Context())
	if err != nil {
		h.logger.Error("list agents", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []*domain.AgentStatus{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// UpsertAgent handles PUT /api/v1/agents/{id}: registers or updates an
// agent's live status. The path ID wins over any ID in the body.
func (h *REST) UpsertAgent(w http.ResponseWriter, r *http.Request) {
	var agent domain.AgentStatus
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	agent.AgentID = chi.URLParam(r, "id")
	if agent.Availability == "" {
		agent.Availability = domain.AgentOffline
	}

	if err := h.agents.Upsert(r.Context(), &agent); err != nil {
		h.logger.Error("upsert agent", slog.String("agent_id", agent.AgentID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store agent")
		return
	}
	writeJSON(w, http.StatusOK, &agent)
}

// ListConfig handles GET /api/v1/config.
func (h *REST) ListConfig(w http.ResponseWriter, r *http.Request) {
	values, err := h.config.All(r.Context())
	if err != nil {
		h.logger.Error("list config", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list config")
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// SetConfigRequest is the JSON body for PUT /api/v1/config/{key}.
type SetConfigRequest struct {
	Value string `json:"value"`
}

// SetConfig handles PUT /api/v1/config/{key}.
func (h *REST) SetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req SetConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.config.Set(r.Context(), key, req.Value); err != nil {
		var unknown *domain.UnknownConfigKeyError
		var invalid *domain.ConfigValidationError
		switch {
		case errors.As(err, &unknown):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &invalid):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("set config", slog.String("key", key), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to store config")
		}
		return
	}

	h.logger.Info("config updated", slog.String("key", key), slog.String("value", req.Value))
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

// StatusResponse is the GET /api/v1/status body.
type StatusResponse struct {
	Scheduler scheduler.Status          `json:"scheduler"`
	Backlog   map[domain.ItemStatus]int `json:"backlog"`
}

// GetStatus handles GET /api/v1/status: scheduler state, queue counts, and
// backlog totals by item status.
func (h *REST) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Scheduler: h.control.Status()}

	counts, err := h.items.CountByStatus(r.Context())
	if err != nil {
		h.logger.Warn("count backlog", slog.String("error", err.Error()))
		counts = map[domain.ItemStatus]int{}
	}
	resp.Backlog = counts
	writeJSON(w, http.StatusOK, resp)
}

// EmptyQueue handles POST /api/v1/queues/{name}/empty.
func (h *REST) EmptyQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.control.EmptyQueue(name) {
		writeError(w, http.StatusNotFound, "unknown queue")
		return
	}
	h.logger.Info("queue emptied via ops", slog.String("queue", name))
	writeJSON(w, http.StatusOK, map[string]string{"queue": name, "status": "emptied"})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz — ready once the scheduler runtime is.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	if !h.control.Ready() {
		writeError(w, http.StatusServiceUnavailable, "scheduler not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
