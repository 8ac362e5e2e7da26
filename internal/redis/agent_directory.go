// Package redis holds the live, fast-changing state of the system: agent
// presence and the runtime-tunable configuration. Durable backlog data lives
// in Postgres; Redis is for state that is read on every dispatch cycle.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
)

const agentSetKey = "agents"

func agentKey(agentID string) string { return "agent:" + agentID }

// AgentDirectory manages per-agent availability and connection state.
type AgentDirectory interface {
	Upsert(ctx context.Context, agent *domain.AgentStatus) error
	Get(ctx context.Context, agentID string) (*domain.AgentStatus, error)
	List(ctx context.Context) ([]*domain.AgentStatus, error)
	// EligibleAgents returns agents that are available, online, and
	// connected, ordered by session calls completed ascending so lightly
	// loaded agents are dispatched to first.
	EligibleAgents(ctx context.Context) ([]*domain.AgentStatus, error)
	// OnlineAgents returns every online agent regardless of availability.
	OnlineAgents(ctx context.Context) ([]*domain.AgentStatus, error)
	// SetInCall marks the agent as occupying an active call.
	SetInCall(ctx context.Context, agentID, callID string) error
	// MarkOffline downgrades the agent to disconnected/offline. Upgrades
	// never happen here; they require explicit agent action.
	MarkOffline(ctx context.Context, agentID string) error
	Remove(ctx context.Context, agentID string) error
}

type agentDirectory struct {
	client *redis.Client
}

// NewAgentDirectory creates a Redis-backed AgentDirectory.
func NewAgentDirectory(client *redis.Client) AgentDirectory {
	return &agentDirectory{client: client}
}

func (d *agentDirectory) Upsert(ctx context.Context, agent *domain.AgentStatus) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshal agent %s: %w", agent.AgentID, err)
	}
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, agentKey(agent.AgentID), data, 0)
	pipe.SAdd(ctx, agentSetKey, agent.AgentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert agent %s: %w", agent.AgentID, err)
	}
	return nil
}

func (d *agentDirectory) Get(ctx context.Context, agentID string) (*domain.AgentStatus, error) {
	data, err := d.client.Get(ctx, agentKey(agentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.AgentNotFoundError{AgentID: agentID}
		}
		return nil, fmt.Errorf("redis get agent %s: %w", agentID, err)
	}
	var agent domain.AgentStatus
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("unmarshal agent %s: %w", agentID, err)
	}
	return &agent, nil
}

func (d *agentDirectory) List(ctx context.Context) ([]*domain.AgentStatus, error) {
	ids, err := d.client.SMembers(ctx, agentSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list agents: %w", err)
	}
	agents := make([]*domain.AgentStatus, 0, len(ids))
	for _, id := range ids {
		agent, err := d.Get(ctx, id)
		if err != nil {
			// Stale set entry; skip rather than failing the whole listing.
			var notFound *domain.AgentNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents, nil
}

func (d *agentDirectory) EligibleAgents(ctx context.Context) ([]*domain.AgentStatus, error) {
	all, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	eligible := all[:0]
	for _, a := range all {
		if a.Eligible() {
			eligible = append(eligible, a)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].CallsCompleted < eligible[j].CallsCompleted
	})
	return eligible, nil
}

func (d *agentDirectory) OnlineAgents(ctx context.Context) ([]*domain.AgentStatus, error) {
	all, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	online := all[:0]
	for _, a := range all {
		if a.Online {
			online = append(online, a)
		}
	}
	return online, nil
}

func (d *agentDirectory) SetInCall(ctx context.Context, agentID, callID string) error {
	agent, err := d.Get(ctx, agentID)
	if err != nil {
		return err
	}
	agent.Availability = domain.AgentInCall
	agent.ActiveCallID = callID
	return d.Upsert(ctx, agent)
}

func (d *agentDirectory) MarkOffline(ctx context.Context, agentID string) error {
	agent, err := d.Get(ctx, agentID)
	if err != nil {
		return err
	}
	agent.Connected = false
	agent.Availability = domain.AgentOffline
	agent.ActiveCallID = ""
	return d.Upsert(ctx, agent)
}

func (d *agentDirectory) Remove(ctx context.Context, agentID string) error {
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, agentKey(agentID))
	pipe.SRem(ctx, agentSetKey, agentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis remove agent %s: %w", agentID, err)
	}
	return nil
}
