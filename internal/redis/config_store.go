package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
)

func configKey(key string) string { return "config:" + key }

// ConfigValue is one setting with its current (or default) value, for the
// ops surface.
type ConfigValue struct {
	domain.ConfigEntry
	Value string `json:"value"`
}

// ConfigStore reads and writes runtime-tunable settings. Reads never fail:
// a missing, unparseable, or out-of-bounds stored value falls back to the
// entry's documented default. Writes are validated against the definition
// table's bounds and editability.
type ConfigStore interface {
	Int(ctx context.Context, key string) int
	Duration(ctx context.Context, key string) time.Duration
	String(ctx context.Context, key string) string
	IntList(ctx context.Context, key string) []int
	Set(ctx context.Context, key, raw string) error
	All(ctx context.Context) ([]ConfigValue, error)
}

type configStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewConfigStore creates a Redis-backed ConfigStore.
func NewConfigStore(client *redis.Client, logger *slog.Logger) ConfigStore {
	return &configStore{client: client, logger: logger}
}

// raw returns the stored value if it exists and validates, otherwise the
// entry's default. The bool reports whether the key is defined at all.
func (s *configStore) raw(ctx context.Context, key string) (string, bool) {
	def, ok := domain.ConfigDefinition(key)
	if !ok {
		s.logger.Warn("read of unknown config key", slog.String("key", key))
		return "", false
	}
	val, err := s.client.Get(ctx, configKey(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("config read failed, using default",
				slog.String("key", key), slog.String("error", err.Error()))
		}
		return def.Default, true
	}
	if err := def.Validate(val); err != nil {
		s.logger.Warn("stored config value invalid, using default",
			slog.String("key", key), slog.String("error", err.Error()))
		return def.Default, true
	}
	return val, true
}

func (s *configStore) Int(ctx context.Context, key string) int {
	val, ok := s.raw(ctx, key)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(val)
	return n
}

func (s *configStore) Duration(ctx context.Context, key string) time.Duration {
	val, ok := s.raw(ctx, key)
	if !ok {
		return 0
	}
	d, _ := time.ParseDuration(val)
	return d
}

func (s *configStore) String(ctx context.Context, key string) string {
	val, _ := s.raw(ctx, key)
	return val
}

func (s *configStore) IntList(ctx context.Context, key string) []int {
	def, ok := domain.ConfigDefinition(key)
	if !ok {
		return nil
	}
	val, _ := s.raw(ctx, key)
	list, err := def.ParseIntList(val)
	if err != nil {
		list, _ = def.ParseIntList(def.Default)
	}
	return list
}

func (s *configStore) Set(ctx context.Context, key, raw string) error {
	def, ok := domain.ConfigDefinition(key)
	if !ok {
		return &domain.UnknownConfigKeyError{Key: key}
	}
	if err := def.ValidateWrite(raw); err != nil {
		return err
	}
	if err := s.client.Set(ctx, configKey(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set config %s: %w", key, err)
	}
	return nil
}

func (s *configStore) All(ctx context.Context) ([]ConfigValue, error) {
	defs := domain.ConfigDefinitions()
	out := make([]ConfigValue, 0, len(defs))
	for _, def := range defs {
		val, _ := s.raw(ctx, def.Key)
		out = append(out, ConfigValue{ConfigEntry: def, Value: val})
	}
	return out, nil
}
