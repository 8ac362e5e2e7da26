// Package events fans call lifecycle transitions out to downstream systems:
// a Kafka topic for CRM sync and analytics, and a tenant-configured webhook
// delivered through the webhooks queue. Emission is best-effort; a failed
// emit never fails the call that produced it.
package events

import "time"

// Event types, one per lifecycle transition of a queue item.
const (
	EventCallScheduled   = "call.scheduled"
	EventCallConnected   = "call.connected"
	EventCallRescheduled = "call.rescheduled"
	EventCallFailed      = "call.failed"
)

// JobDeliverWebhook is the queue job name for webhook delivery.
const JobDeliverWebhook = "deliverWebhook"

// CallEvent is the wire shape shared by the Kafka topic and webhook POSTs.
type CallEvent struct {
	Type           string    `json:"type"`
	QueueItemID    string    `json:"queue_item_id"`
	ClientID       string    `json:"client_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	PhoneNumber    string    `json:"phone_number"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	Result         string    `json:"result,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	NextAttemptAt  time.Time `json:"next_attempt_at,omitzero"`
	At             time.Time `json:"at"`
}
