package domain

// Availability is an agent's self-reported or provider-reported state.
type Availability string

const (
	AgentAvailable Availability = "available"
	AgentBusy      Availability = "busy"
	AgentOffline   Availability = "offline"
	AgentInCall    Availability = "in-call"
	AgentOnBreak   Availability = "break"
)

// AgentStatus is the live per-agent record kept by the agent directory.
// ActiveCallID non-empty implies Availability == AgentInCall.
type AgentStatus struct {
	AgentID          string       `json:"agent_id"`
	Availability     Availability `json:"availability"`
	Online           bool         `json:"online"`
	Connected        bool         `json:"connected"`
	ProviderUserID   string       `json:"provider_user_id,omitempty"`
	ProviderNumberID string       `json:"provider_number_id,omitempty"`
	ActiveCallID     string       `json:"active_call_id,omitempty"`
	CallsCompleted   int          `json:"calls_completed"`
	TalkTimeSeconds  int          `json:"talk_time_seconds"`
}

// Eligible reports whether the agent can receive dispatched calls.
func (a *AgentStatus) Eligible() bool {
	return a.Availability == AgentAvailable && a.Online && a.Connected
}
