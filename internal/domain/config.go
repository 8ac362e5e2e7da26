package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ConfigKind is the declared value type of a config entry.
type ConfigKind string

const (
	KindInt      ConfigKind = "int"
	KindDuration ConfigKind = "duration"
	KindString   ConfigKind = "string"
	KindIntList  ConfigKind = "intlist"
)

// Runtime-tunable setting keys read by the dispatch loop and processors.
const (
	KeyCallRateLimit      = "call_rate_limit"
	KeyRetryDelay         = "retry_delay"
	KeyMaxRetries         = "max_retries"
	KeyBusinessDays       = "business_days"
	KeyBusinessHoursStart = "business_hours_start"
	KeyBusinessHoursEnd   = "business_hours_end"
	KeyRetentionDays      = "retention_days"
	KeyWebhookURL         = "webhook_url"
)

// ConfigEntry describes one runtime-tunable setting: its type, default, and
// validation bounds. Values are stored as strings and parsed per Kind.
type ConfigEntry struct {
	Key      string     `json:"key"`
	Kind     ConfigKind `json:"kind"`
	Default  string     `json:"default"`
	Editable bool       `json:"editable"`

	// Bounds for KindInt and per-element bounds for KindIntList.
	MinInt int `json:"min,omitempty"`
	MaxInt int `json:"max,omitempty"`
	// Bounds for KindDuration.
	MinDur time.Duration `json:"-"`
	MaxDur time.Duration `json:"-"`
	// Pattern for KindString (empty = unconstrained).
	Pattern string `json:"pattern,omitempty"`
}

var hhmm = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// configDefs is the authoritative table of settings. business_days uses
// time.Weekday numbering (Sunday = 0), so the default 1-5 is Monday-Friday.
var configDefs = []ConfigEntry{
	{Key: KeyCallRateLimit, Kind: KindInt, Default: "6", Editable: true, MinInt: 1, MaxInt: 60},
	{Key: KeyRetryDelay, Kind: KindDuration, Default: "10m", Editable: true, MinDur: time.Minute, MaxDur: 24 * time.Hour},
	{Key: KeyMaxRetries, Kind: KindInt, Default: "3", Editable: true, MinInt: 1, MaxInt: 10},
	{Key: KeyBusinessDays, Kind: KindIntList, Default: "1,2,3,4,5", Editable: true, MinInt: 0, MaxInt: 6},
	{Key: KeyBusinessHoursStart, Kind: KindString, Default: "09:00", Editable: true, Pattern: hhmm.String()},
	{Key: KeyBusinessHoursEnd, Kind: KindString, Default: "17:00", Editable: true, Pattern: hhmm.String()},
	{Key: KeyRetentionDays, Kind: KindInt, Default: "90", Editable: true, MinInt: 7, MaxInt: 365},
	{Key: KeyWebhookURL, Kind: KindString, Default: "", Editable: true},
}

var configDefsByKey = func() map[string]ConfigEntry {
	m := make(map[string]ConfigEntry, len(configDefs))
	for _, def := range configDefs {
		m[def.Key] = def
	}
	return m
}()

// ConfigDefinitions returns all setting definitions in declaration order.
func ConfigDefinitions() []ConfigEntry {
	out := make([]ConfigEntry, len(configDefs))
	copy(out, configDefs)
	return out
}

// ConfigDefinition looks up the definition for key.
func ConfigDefinition(key string) (ConfigEntry, bool) {
	def, ok := configDefsByKey[key]
	return def, ok
}

// Validate checks raw against the entry's kind and bounds. It does not check
// editability; that is a write-time concern (see ValidateWrite).
func (e ConfigEntry) Validate(raw string) error {
	switch e.Kind {
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return &ConfigValidationError{Key: e.Key, Reason: fmt.Sprintf("not an integer: %q", raw)}
		}
		if n < e.MinInt || n > e.MaxInt {
			return &ConfigValidationError{Key: e.Key, Reason: fmt.Sprintf("%d outside bounds [%d, %d]", n, e.MinInt, e.MaxInt)}
		}
	case KindDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return &ConfigValidationError{Key: e.Key, Reason: fmt.Sprintf("not a duration: %q", raw)}
		}
		if d < e.MinDur || d > e.MaxDur {
			return &ConfigValidationError{Key: e.Key, Reason: fmt.Sprintf("%s outside bounds [%s, %s]", d, e.MinDur, e.MaxDur)}
		}
	case KindIntList:
		if _, err := e.parseIntList(raw); err != nil {
			return err
		}
	case KindString:
		if e.Pattern != "" && !regexp.MustCompile(e.Pattern).MatchString(raw) {
			return &ConfigValidationError{Key: e.Key, Reason: fmt.Sprintf("%q does not match %s", raw, e.Pattern)}
		}
	default:
		return &ConfigValidationError{Key: e.Key, Reason: fmt.Sprintf("unknown kind %q", e.Kind)}
	}
	return nil
}

// ValidateWrite checks editability and then the value itself.
func (e ConfigEntry) ValidateWrite(raw string) error {
	if !e.Editable {
		return &ConfigValidationError{Key: e.Key, Reason: "entry is not editable"}
	}
	return e.Validate(raw)
}

// ParseIntList parses a comma-separated int list, enforcing per-element bounds.
func (e ConfigEntry) ParseIntList(raw string) ([]int, error) {
	return e.parseIntList(raw)
}

func (e ConfigEntry) parseIntList(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ConfigValidationError{Key: e.Key, Reason: "empty list"}
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, &ConfigValidationError{Key: e.Key, Reason: fmt.Sprintf("not an integer: %q", p)}
		}
		if n < e.MinInt || n > e.MaxInt {
			return nil, &ConfigValidationError{Key: e.Key, Reason: fmt.Sprintf("%d outside bounds [%d, %d]", n, e.MinInt, e.MaxInt)}
		}
		out = append(out, n)
	}
	return out, nil
}
