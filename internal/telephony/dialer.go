// Package telephony abstracts the call placement capability. Concrete
// provider bindings live behind the Dialer and Presence interfaces; the
// engine never sees provider wire formats.
package telephony

import "context"

// CallMetadata is correlation data attached to every placed call.
type CallMetadata struct {
	ClientID    string `json:"client_id"`
	QueueItemID string `json:"queue_item_id"`
}

// CallRequest identifies who dials, from which provider line, to which number.
type CallRequest struct {
	AgentProviderID  string       `json:"agent_provider_id"`
	NumberProviderID string       `json:"number_provider_id"`
	PhoneNumber      string       `json:"phone_number"`
	Metadata         CallMetadata `json:"metadata"`
}

// Dialer places outbound calls through a telephony provider. PhoneNumber
// must be valid E.164; implementations reject non-E.164 input before any
// provider traffic. Callers apply their own timeout via ctx and treat a
// timeout as a call-level failure.
type Dialer interface {
	PlaceCall(ctx context.Context, req CallRequest) (providerCallID string, err error)
}

// Presence answers live availability questions about provider users. Used by
// the maintenance probe to downgrade stale agents.
type Presence interface {
	IsAvailable(ctx context.Context, providerUserID string) (bool, error)
}
