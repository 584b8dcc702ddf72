// services/gateway/internal/infrastructure/cache.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"example.com/backstage/services/gateway/config"
	"example.com/backstage/services/gateway/internal/core"
)

const deviceKeyPrefix = "gateway:device:"

// RegistryMirror keeps device records in Redis so restarts and sibling
// gateway instances share one registry snapshot.
type RegistryMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRegistryMirror creates a new mirror connection.
func NewRegistryMirror(cfg config.RedisConfig) (*RegistryMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RegistryMirror{client: client, ttl: cfg.RecordTTL}, nil
}

// Store writes a device record to the mirror.
func (m *RegistryMirror) Store(ctx context.Context, rec core.DeviceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal device record: %w", err)
	}
	return m.client.Set(ctx, deviceKeyPrefix+rec.ID, data, m.ttl).Err()
}

// Remove deletes a device record from the mirror.
func (m *RegistryMirror) Remove(ctx context.Context, deviceID string) error {
	return m.client.Del(ctx, deviceKeyPrefix+deviceID).Err()
}

// Load reads a device record from the mirror; a missing key returns nil.
func (m *RegistryMirror) Load(ctx context.Context, deviceID string) (*core.DeviceRecord, error) {
	data, err := m.client.Get(ctx, deviceKeyPrefix+deviceID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec core.DeviceRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device record: %w", err)
	}
	return &rec, nil
}

// Close closes the mirror connection.
func (m *RegistryMirror) Close() error {
	return m.client.Close()
}
