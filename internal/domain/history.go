package domain

import "time"

// CallHistory records a single placed call for auditing and retention.
type CallHistory struct {
	ID              string     `json:"id"`
	QueueItemID     string     `json:"queue_item_id"`
	ClientID        string     `json:"client_id"`
	AgentID         string     `json:"agent_id"`
	PhoneNumber     string     `json:"phone_number"`
	ProviderCallID  string     `json:"provider_call_id"`
	Result          CallResult `json:"result"`
	DurationSeconds int        `json:"duration_seconds"`
	StartedAt       time.Time  `json:"started_at"`
}
