package maintenance

import (
	"context"
	"encoding/json"
	"log/slog"

	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/internal/telephony"
	"github.com/ramiqadoumi/go-dial-flow/pkg/telemetry"
)

// AvailabilityProbe cross-checks every online agent against the telephony
// provider's presence API and downgrades agents the provider no longer sees.
// It only ever downgrades; coming back online requires explicit agent action
// through the ops surface.
type AvailabilityProbe struct {
	agents   redisstore.AgentDirectory
	presence telephony.Presence
	logger   *slog.Logger
}

func NewAvailabilityProbe(agents redisstore.AgentDirectory, presence telephony.Presence, logger *slog.Logger) *AvailabilityProbe {
	return &AvailabilityProbe{
		agents:   agents,
		presence: presence,
		logger:   logger.With(slog.String("component", "availability_probe")),
	}
}

// Run executes one probe pass. The payload is unused.
func (p *AvailabilityProbe) Run(ctx context.Context, _ json.RawMessage) error {
	agents, err := p.agents.OnlineAgents(ctx)
	if err != nil {
		return err
	}

	for _, agent := range agents {
		// Agents without a provider identity can't be probed; leave them be.
		if agent.ProviderUserID == "" {
			continue
		}

		available, err := p.presence.IsAvailable(ctx, agent.ProviderUserID)
		if err != nil {
			// A failed probe is not evidence of absence; never downgrade
			// on provider errors.
			p.logger.Warn("presence probe failed",
				slog.String("agent_id", agent.AgentID),
				slog.String("error", err.Error()))
			continue
		}
		if available {
			continue
		}

		if err := p.agents.MarkOffline(ctx, agent.AgentID); err != nil {
			p.logger.Error("mark agent offline",
				slog.String("agent_id", agent.AgentID),
				slog.String("error", err.Error()))
			continue
		}
		telemetry.AgentsDowngradedTotal.Inc()
		p.logger.Info("agent downgraded to offline", slog.String("agent_id", agent.AgentID))
	}
	return nil
}
