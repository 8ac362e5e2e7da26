package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
)

func TestConfigDefinition_KnownKeys(t *testing.T) {
	for _, key := range []string{
		domain.KeyCallRateLimit,
		domain.KeyRetryDelay,
		domain.KeyMaxRetries,
		domain.KeyBusinessDays,
		domain.KeyBusinessHoursStart,
		domain.KeyBusinessHoursEnd,
		domain.KeyRetentionDays,
		domain.KeyWebhookURL,
	} {
		t.Run(key, func(t *testing.T) {
			def, ok := domain.ConfigDefinition(key)
			require.True(t, ok)
			assert.Equal(t, key, def.Key)
			// Every default must pass its own validation.
			if def.Default != "" {
				assert.NoError(t, def.Validate(def.Default))
			}
		})
	}
}

func TestConfigDefinition_UnknownKey(t *testing.T) {
	_, ok := domain.ConfigDefinition("no_such_setting")
	assert.False(t, ok)
}

func TestConfigEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		raw     string
		wantErr bool
	}{
		{"rate limit in bounds", domain.KeyCallRateLimit, "10", false},
		{"rate limit zero", domain.KeyCallRateLimit, "0", true},
		{"rate limit over max", domain.KeyCallRateLimit, "100", true},
		{"rate limit not a number", domain.KeyCallRateLimit, "six", true},
		{"retry delay in bounds", domain.KeyRetryDelay, "15m", false},
		{"retry delay too short", domain.KeyRetryDelay, "5s", true},
		{"retry delay garbage", domain.KeyRetryDelay, "soon", true},
		{"business days valid", domain.KeyBusinessDays, "1,2,3", false},
		{"business days with saturday", domain.KeyBusinessDays, "1,6", false},
		{"business days out of range", domain.KeyBusinessDays, "1,7", true},
		{"business days empty", domain.KeyBusinessDays, "", true},
		{"hours valid", domain.KeyBusinessHoursStart, "08:30", false},
		{"hours invalid", domain.KeyBusinessHoursStart, "8:30", true},
		{"hours out of range", domain.KeyBusinessHoursEnd, "25:00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, ok := domain.ConfigDefinition(tt.key)
			require.True(t, ok)
			err := def.Validate(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				var vErr *domain.ConfigValidationError
				assert.ErrorAs(t, err, &vErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateWrite_NotEditable(t *testing.T) {
	def := domain.ConfigEntry{Key: "frozen", Kind: domain.KindInt, MaxInt: 10, Editable: false}
	err := def.ValidateWrite("5")
	require.Error(t, err)
	var vErr *domain.ConfigValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "frozen", vErr.Key)
}

func TestParseIntList(t *testing.T) {
	def, ok := domain.ConfigDefinition(domain.KeyBusinessDays)
	require.True(t, ok)

	days, err := def.ParseIntList("1, 2,3")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, days)

	_, err = def.ParseIntList("1,x")
	require.Error(t, err)
}
