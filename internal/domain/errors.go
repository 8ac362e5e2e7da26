package domain

import "fmt"

// ItemNotFoundError is returned when a call-queue item ID does not exist.
type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("call queue item not found: %s", e.ItemID)
}

// AgentNotFoundError is returned when an agent ID is not in the directory.
type AgentNotFoundError struct {
	AgentID string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent not found: %s", e.AgentID)
}

// ConfigValidationError is returned when a config write violates the entry's
// declared bounds or editability, or when a stored value fails to parse.
type ConfigValidationError struct {
	Key    string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config %q: %s", e.Key, e.Reason)
}

// UnknownConfigKeyError is returned for keys outside the definition table.
type UnknownConfigKeyError struct {
	Key string
}

func (e *UnknownConfigKeyError) Error() string {
	return fmt.Sprintf("unknown config key %q", e.Key)
}

// InvalidPhoneNumberError is returned when a number fails E.164 validation
// before call placement is ever attempted.
type InvalidPhoneNumberError struct {
	Number string
}

func (e *InvalidPhoneNumberError) Error() string {
	return fmt.Sprintf("phone number %q is not valid E.164", e.Number)
}

// MissingProviderIdentityError is returned when an agent has no provider
// identifiers; call placement for that agent is a hard failure.
type MissingProviderIdentityError struct {
	AgentID string
}

func (e *MissingProviderIdentityError) Error() string {
	return fmt.Sprintf("agent %s has no provider identity configured", e.AgentID)
}
