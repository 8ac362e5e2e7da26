package ops

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
	"github.com/ramiqadoumi/go-dial-flow/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/pkg/clock"
	"github.com/ramiqadoumi/go-dial-flow/services/scheduler"
)

// ─── fakes ───

type fakeControl struct {
	ready  bool
	status scheduler.Status
	queues map[string]bool

	emptied []string
}

func (f *fakeControl) Status() scheduler.Status { return f.status }
func (f *fakeControl) Ready() bool              { return f.ready }
func (f *fakeControl) EmptyQueue(name string) bool {
	if !f.queues[name] {
		return false
	}
	f.emptied = append(f.emptied, name)
	return true
}

type fakeItems struct {
	postgres.CallQueueRepository
	created []*domain.CallQueueItem
	byID    map[string]*domain.CallQueueItem
	counts  map[domain.ItemStatus]int
}

func (f *fakeItems) Create(ctx context.Context, item *domain.CallQueueItem) error {
	f.created = append(f.created, item)
	return nil
}

func (f *fakeItems) GetByID(ctx context.Context, id string) (*domain.CallQueueItem, error) {
	if it, ok := f.byID[id]; ok {
		return it, nil
	}
	return nil, &domain.ItemNotFoundError{ItemID: id}
}

func (f *fakeItems) ListByStatus(ctx context.Context, status domain.ItemStatus, limit int) ([]*domain.CallQueueItem, error) {
	var out []*domain.CallQueueItem
	for _, it := range f.byID {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeItems) CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error) {
	return f.counts, nil
}

type fakeHistory struct {
	postgres.CallHistoryRepository
	calls []*domain.CallHistory
}

func (f *fakeHistory) ListRecent(ctx context.Context, limit int) ([]*domain.CallHistory, error) {
	return f.calls, nil
}

type fakeAgents struct {
	redisstore.AgentDirectory
	agents   []*domain.AgentStatus
	upserted []*domain.AgentStatus
}

func (f *fakeAgents) List(ctx context.Context) ([]*domain.AgentStatus, error) {
	return f.agents, nil
}

func (f *fakeAgents) Upsert(ctx context.Context, agent *domain.AgentStatus) error {
	f.upserted = append(f.upserted, agent)
	return nil
}

type fakeConfig struct {
	redisstore.ConfigStore
	sets map[string]string
}

// Set runs the real definition-table validation so handler status mapping
// gets exercised against real error types.
func (f *fakeConfig) Set(ctx context.Context, key, raw string) error {
	def, ok := domain.ConfigDefinition(key)
	if !ok {
		return &domain.UnknownConfigKeyError{Key: key}
	}
	if err := def.ValidateWrite(raw); err != nil {
		return err
	}
	if f.sets == nil {
		f.sets = make(map[string]string)
	}
	f.sets[key] = raw
	return nil
}

func (f *fakeConfig) All(ctx context.Context) ([]redisstore.ConfigValue, error) {
	var out []redisstore.ConfigValue
	for _, def := range domain.ConfigDefinitions() {
		out = append(out, redisstore.ConfigValue{ConfigEntry: def, Value: def.Default})
	}
	return out, nil
}

// ─── harness ───

type harness struct {
	control *fakeControl
	items   *fakeItems
	history *fakeHistory
	agents  *fakeAgents
	config  *fakeConfig
	router  http.Handler
}

var testNow = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

func newHarness() *harness {
	h := &harness{
		control: &fakeControl{
			ready:  true,
			status: scheduler.Status{State: scheduler.StateReady, Queues: map[string]scheduler.QueueStatus{}},
			queues: map[string]bool{"calls": true, "webhooks": true, "maintenance": true},
		},
		items:   &fakeItems{byID: map[string]*domain.CallQueueItem{}, counts: map[domain.ItemStatus]int{}},
		history: &fakeHistory{},
		agents:  &fakeAgents{},
		config:  &fakeConfig{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rest := NewREST(h.control, h.items, h.history, h.agents, h.config, clock.NewFake(testNow), logger)
	h.router = rest.Routes()
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

// ─── backlog ───

func TestEnqueueCall_CreatesPendingItem(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/v1/queue",
		`{"client_id":"client-7","phone_number":"+15551234567","priority":2}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, h.items.created, 1)

	item := h.items.created[0]
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "client-7", item.ClientID)
	assert.Equal(t, domain.ItemPending, item.Status)
	assert.Equal(t, 2, item.Priority)
	assert.Equal(t, testNow, item.ScheduledFor)
}

func TestEnqueueCall_HonorsScheduledFor(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/v1/queue",
		`{"client_id":"client-7","phone_number":"+15551234567","scheduled_for":"2025-04-01T09:00:00Z"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, h.items.created, 1)
	assert.Equal(t, time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), h.items.created[0].ScheduledFor)
}

func TestEnqueueCall_RejectsBadNumber(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/v1/queue",
		`{"client_id":"client-7","phone_number":"555-1234"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.items.created)
}

func TestEnqueueCall_RequiresClientID(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/v1/queue",
		`{"phone_number":"+15551234567"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetQueueItem(t *testing.T) {
	h := newHarness()
	h.items.byID["item-1"] = &domain.CallQueueItem{ID: "item-1", Status: domain.ItemPending}

	rec := h.do(t, http.MethodGet, "/api/v1/queue/item-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.CallQueueItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "item-1", got.ID)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/queue/missing", "").Code)
}

// ─── status and queues ───

func TestGetStatus(t *testing.T) {
	h := newHarness()
	h.items.counts[domain.ItemPending] = 4

	rec := h.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, scheduler.StateReady, got.Scheduler.State)
	assert.Equal(t, 4, got.Backlog[domain.ItemPending])
}

func TestEmptyQueue(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPost, "/api/v1/queues/calls/empty", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"calls"}, h.control.emptied)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/v1/queues/bogus/empty", "").Code)
}

// ─── agents ───

func TestUpsertAgent_PathIDWins(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPut, "/api/v1/agents/agent-9",
		`{"agent_id":"spoofed","availability":"available","online":true,"connected":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.agents.upserted, 1)
	assert.Equal(t, "agent-9", h.agents.upserted[0].AgentID)
	assert.Equal(t, domain.AgentAvailable, h.agents.upserted[0].Availability)
}

// ─── config ───

func TestSetConfig(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPut, "/api/v1/config/call_rate_limit", `{"value":"10"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", h.config.sets["call_rate_limit"])
}

func TestSetConfig_UnknownKey(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPut, "/api/v1/config/nope", `{"value":"1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetConfig_OutOfBounds(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPut, "/api/v1/config/call_rate_limit", `{"value":"500"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.config.sets)
}

func TestListConfig(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []redisstore.ConfigValue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, len(domain.ConfigDefinitions()))
}

// ─── probes ───

func TestReadyz(t *testing.T) {
	h := newHarness()
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/readyz", "").Code)

	h.control.ready = false
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/readyz", "").Code)
}

func TestHealthz(t *testing.T) {
	h := newHarness()
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "").Code)
}
