package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
	"github.com/ramiqadoumi/go-dial-flow/internal/postgres"
	"github.com/ramiqadoumi/go-dial-flow/internal/queue"
	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/internal/telephony"
)

// ─── in-memory call queue repository ───

type fakeItemRepo struct {
	mu    sync.Mutex
	items map[string]*domain.CallQueueItem

	assigns []string // item IDs Assign was called for
	failErr error    // returned by every method when set
}

var _ postgres.CallQueueRepository = (*fakeItemRepo)(nil)

func newFakeItemRepo(items ...*domain.CallQueueItem) *fakeItemRepo {
	r := &fakeItemRepo{items: make(map[string]*domain.CallQueueItem)}
	for _, it := range items {
		cp := *it
		if cp.Status == "" {
			cp.Status = domain.ItemPending
		}
		r.items[cp.ID] = &cp
	}
	return r
}

func (r *fakeItemRepo) get(id string) *domain.CallQueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.items[id]
	return &cp
}

func (r *fakeItemRepo) Create(ctx context.Context, item *domain.CallQueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.items[cp.ID] = &cp
	return nil
}

func (r *fakeItemRepo) GetByID(ctx context.Context, id string) (*domain.CallQueueItem, error) {
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, &domain.ItemNotFoundError{ItemID: id}
	}
	cp := *it
	return &cp, nil
}

func (r *fakeItemRepo) FetchDispatchable(ctx context.Context, agentID string, now time.Time, limit int) ([]*domain.CallQueueItem, error) {
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CallQueueItem
	for _, it := range r.items {
		if it.Status != domain.ItemPending || it.ScheduledFor.After(now) {
			continue
		}
		if it.AssignedTo != "" && it.AssignedTo != agentID {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeItemRepo) Assign(ctx context.Context, itemID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok {
		return &domain.ItemNotFoundError{ItemID: itemID}
	}
	if it.AssignedTo != "" && it.AssignedTo != agentID {
		return fmt.Errorf("item %s already assigned to %s", itemID, it.AssignedTo)
	}
	it.AssignedTo = agentID
	r.assigns = append(r.assigns, itemID)
	return nil
}

func (r *fakeItemRepo) MarkInProgress(ctx context.Context, itemID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok {
		return 0, &domain.ItemNotFoundError{ItemID: itemID}
	}
	it.Status = domain.ItemInProgress
	it.Attempts++
	t := now
	it.LastAttempt = &t
	return it.Attempts, nil
}

func (r *fakeItemRepo) Reschedule(ctx context.Context, itemID string, result domain.CallResult, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok {
		return &domain.ItemNotFoundError{ItemID: itemID}
	}
	it.Status = domain.ItemPending
	it.LastResult = result
	it.ScheduledFor = at
	return nil
}

func (r *fakeItemRepo) Complete(ctx context.Context, itemID string) error {
	return r.finish(itemID, domain.ItemCompleted, domain.ResultConnected)
}

func (r *fakeItemRepo) Fail(ctx context.Context, itemID string) error {
	return r.finish(itemID, domain.ItemFailed, domain.ResultFailed)
}

func (r *fakeItemRepo) finish(itemID string, status domain.ItemStatus, result domain.CallResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok {
		return &domain.ItemNotFoundError{ItemID: itemID}
	}
	it.Status = status
	it.LastResult = result
	return nil
}

func (r *fakeItemRepo) ListByStatus(ctx context.Context, status domain.ItemStatus, limit int) ([]*domain.CallQueueItem, error) {
	return nil, nil
}

func (r *fakeItemRepo) CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.ItemStatus]int)
	for _, it := range r.items {
		counts[it.Status]++
	}
	return counts, nil
}

func (r *fakeItemRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// ─── recording call history ───

type fakeHistory struct {
	mu      sync.Mutex
	records []*domain.CallHistory
}

var _ postgres.CallHistoryRepository = (*fakeHistory)(nil)

func (h *fakeHistory) Record(ctx context.Context, call *domain.CallHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *call
	h.records = append(h.records, &cp)
	return nil
}

func (h *fakeHistory) ListRecent(ctx context.Context, limit int) ([]*domain.CallHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.CallHistory(nil), h.records...), nil
}

func (h *fakeHistory) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var kept []*domain.CallHistory
	var deleted int64
	for _, rec := range h.records {
		if rec.StartedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	h.records = kept
	return deleted, nil
}

// ─── in-memory agent directory ───

type fakeAgents struct {
	mu     sync.Mutex
	agents map[string]*domain.AgentStatus

	inCall  map[string]string // agentID → callID from SetInCall
	listErr error
}

var _ redisstore.AgentDirectory = (*fakeAgents)(nil)

func newFakeAgents(agents ...*domain.AgentStatus) *fakeAgents {
	d := &fakeAgents{
		agents: make(map[string]*domain.AgentStatus),
		inCall: make(map[string]string),
	}
	for _, a := range agents {
		cp := *a
		d.agents[cp.AgentID] = &cp
	}
	return d
}

func (d *fakeAgents) Upsert(ctx context.Context, agent *domain.AgentStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *agent
	d.agents[cp.AgentID] = &cp
	return nil
}

func (d *fakeAgents) Get(ctx context.Context, agentID string) (*domain.AgentStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		return nil, &domain.AgentNotFoundError{AgentID: agentID}
	}
	cp := *a
	return &cp, nil
}

func (d *fakeAgents) List(ctx context.Context) ([]*domain.AgentStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*domain.AgentStatus
	for _, a := range d.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (d *fakeAgents) EligibleAgents(ctx context.Context) ([]*domain.AgentStatus, error) {
	if d.listErr != nil {
		return nil, d.listErr
	}
	all, _ := d.List(ctx)
	var out []*domain.AgentStatus
	for _, a := range all {
		if a.Eligible() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CallsCompleted < out[j].CallsCompleted
	})
	return out, nil
}

func (d *fakeAgents) OnlineAgents(ctx context.Context) ([]*domain.AgentStatus, error) {
	all, _ := d.List(ctx)
	var out []*domain.AgentStatus
	for _, a := range all {
		if a.Online {
			out = append(out, a)
		}
	}
	return out, nil
}

func (d *fakeAgents) SetInCall(ctx context.Context, agentID, callID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.agents[agentID]; ok {
		a.Availability = domain.AgentInCall
		a.ActiveCallID = callID
	}
	d.inCall[agentID] = callID
	return nil
}

func (d *fakeAgents) MarkOffline(ctx context.Context, agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.agents[agentID]; ok {
		a.Availability = domain.AgentOffline
		a.Connected = false
		a.ActiveCallID = ""
	}
	return nil
}

func (d *fakeAgents) Remove(ctx context.Context, agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, agentID)
	return nil
}

// ─── config store stub ───

type fakeConfig struct {
	rateLimit  int
	retryDelay time.Duration
	maxRetries int
	days       []int
	start, end string
	webhookURL string
}

var _ redisstore.ConfigStore = (*fakeConfig)(nil)

// defaultConfig mirrors the documented defaults.
func defaultConfig() *fakeConfig {
	return &fakeConfig{
		rateLimit:  6,
		retryDelay: 10 * time.Minute,
		maxRetries: 3,
		days:       []int{1, 2, 3, 4, 5},
		start:      "09:00",
		end:        "17:00",
	}
}

func (c *fakeConfig) Int(ctx context.Context, key string) int {
	switch key {
	case domain.KeyCallRateLimit:
		return c.rateLimit
	case domain.KeyMaxRetries:
		return c.maxRetries
	}
	return 0
}

func (c *fakeConfig) Duration(ctx context.Context, key string) time.Duration {
	return c.retryDelay
}

func (c *fakeConfig) String(ctx context.Context, key string) string {
	switch key {
	case domain.KeyBusinessHoursStart:
		return c.start
	case domain.KeyBusinessHoursEnd:
		return c.end
	case domain.KeyWebhookURL:
		return c.webhookURL
	}
	return ""
}

func (c *fakeConfig) IntList(ctx context.Context, key string) []int { return c.days }

func (c *fakeConfig) Set(ctx context.Context, key, raw string) error { return nil }

func (c *fakeConfig) All(ctx context.Context) ([]redisstore.ConfigValue, error) { return nil, nil }

// ─── dial guard with a fixed budget ───

type fakeGuard struct {
	mu      sync.Mutex
	budget  map[string]int // per-agent remaining allowances
	initial int
}

var _ redisstore.DialGuard = (*fakeGuard)(nil)

func newFakeGuard(perAgent int) *fakeGuard {
	return &fakeGuard{budget: make(map[string]int), initial: perAgent}
}

func (g *fakeGuard) Allow(ctx context.Context, agentID string, limit int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.budget[agentID]; !ok {
		g.budget[agentID] = g.initial
	}
	if g.budget[agentID] <= 0 {
		return false, nil
	}
	g.budget[agentID]--
	return true, nil
}

// ─── recording enqueuer ───

type recordedJob struct {
	name    string
	payload CallPayload
	opts    queue.Options
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []recordedJob
	err  error
}

var _ queue.Enqueuer = (*fakeEnqueuer)(nil)

func (e *fakeEnqueuer) Add(name string, payload any, opts queue.Options) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	job := recordedJob{name: name, opts: opts}
	if raw, err := json.Marshal(payload); err == nil {
		json.Unmarshal(raw, &job.payload)
	}
	e.jobs = append(e.jobs, job)
	return fmt.Sprintf("job-%d", len(e.jobs)), nil
}

func (e *fakeEnqueuer) added() []recordedJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recordedJob(nil), e.jobs...)
}

// ─── scripted dialer ───

type fakeDialer struct {
	mu       sync.Mutex
	requests []telephony.CallRequest
	callID   string
	err      error
}

var _ telephony.Dialer = (*fakeDialer)(nil)

func (d *fakeDialer) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if d.err != nil {
		return "", d.err
	}
	return d.callID, nil
}
