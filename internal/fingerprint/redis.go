package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"genqueue/internal/domain"
)

// RedisMirror shares cached outputs between processes.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror stores outputs under prefix:<fingerprint>. A zero ttl keeps
// keys until Redis evicts them.
func NewRedisMirror(client *redis.Client, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "genqueue:fp"
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl}
}

func (m *RedisMirror) key(fp string) string { return m.prefix + ":" + fp }

// Load returns the stored output for fp.
func (m *RedisMirror) Load(ctx context.Context, fp string) (domain.Output, bool, error) {
	data, err := m.client.Get(ctx, m.key(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Output{}, false, nil
	}
	if err != nil {
		return domain.Output{}, false, fmt.Errorf("redis get: %w", err)
	}
	var out domain.Output
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.Output{}, false, fmt.Errorf("decode cached output: %w", err)
	}
	return out, true, nil
}

// Store writes out under fp.
func (m *RedisMirror) Store(ctx context.Context, fp string, out domain.Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode cached output: %w", err)
	}
	if err := m.client.Set(ctx, m.key(fp), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
