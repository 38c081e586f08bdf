// Package cache remembers recently acknowledged gateway deliveries so repeats
// can be answered without touching the order store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrNotFound = errors.New("key not found")

// Provider stores short-lived delivery markers.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Claim stores value only when key is absent and reports whether it did.
	Claim(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

// DeliveryKey fingerprints a webhook body. Field order does not matter, so a
// gateway retry that reorders the form still maps to the same key.
func DeliveryKey(source string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(fields[k]))
		h.Write([]byte{'&'})
	}
	return fmt.Sprintf("webhook:%s:%s", strings.ToLower(source), hex.EncodeToString(h.Sum(nil)))
}
