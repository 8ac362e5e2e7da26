package domain

import "time"

// ItemStatus represents the states a call-queue item can be in.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in-progress"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemSkipped    ItemStatus = "skipped"
)

// IsTerminal returns true if no further state transitions are possible.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemCompleted || s == ItemFailed
}

// CallResult records the outcome of the most recent call attempt on an item.
type CallResult string

const (
	ResultConnected        CallResult = "connected"
	ResultError            CallResult = "error"
	ResultFailed           CallResult = "failed"
	ResultAgentUnavailable CallResult = "agent-unavailable"
)

// CallQueueItem is one entry in the outbound-call backlog. Items are created
// when a client number is added to the backlog, assigned to agents by the
// dispatch loop, and moved through their lifecycle by the call processor.
// Lower Priority means more urgent.
type CallQueueItem struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"client_id"`
	PhoneNumber  string     `json:"phone_number"`
	Status       ItemStatus `json:"status"`
	Priority     int        `json:"priority"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Attempts     int        `json:"attempts"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	LastResult   CallResult `json:"last_result,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
