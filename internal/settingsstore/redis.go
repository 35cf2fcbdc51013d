package settingsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists records in Redis under two keys per slot:
//
//	Settings.SelectedComponent[<slot key>]  string, implementation name
//	Settings.ComponentSettings[<slot key>]  hash, field -> JSON value
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix namespaces every key as "<prefix>:<key>".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store on client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) selectionKey(slot string) string {
	return s.key("Settings.SelectedComponent[" + slot + "]")
}

func (s *RedisStore) settingsKey(slot string) string {
	return s.key("Settings.ComponentSettings[" + slot + "]")
}

// Save replaces the selection and settings of slot atomically.
func (s *RedisStore) Save(ctx context.Context, slot string, rec Record) error {
	fields := make(map[string]any, len(rec.Settings))
	for field, value := range rec.Settings {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding %s.%s: %w", slot, field, err)
		}
		fields[field] = string(encoded)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.selectionKey(slot), rec.Implementation, 0)
		pipe.Del(ctx, s.settingsKey(slot))
		if len(fields) > 0 {
			pipe.HSet(ctx, s.settingsKey(slot), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving %s: %w", slot, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, slot string) (Record, bool, error) {
	impl, err := s.client.Get(ctx, s.selectionKey(slot)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("loading selection %s: %w", slot, err)
	}

	raw, err := s.client.HGetAll(ctx, s.settingsKey(slot)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("loading settings %s: %w", slot, err)
	}

	rec := Record{Implementation: impl, Settings: make(map[string]any, len(raw))}
	for field, encoded := range raw {
		var value any
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			// Values written by hand are kept as plain strings.
			value = encoded
		}
		rec.Settings[field] = value
	}
	return rec, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, slot string) error {
	if err := s.client.Del(ctx, s.selectionKey(slot), s.settingsKey(slot)).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", slot, err)
	}
	return nil
}
