package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSKVCache is the shared tier backed by a JetStream key-value bucket.
// The bucket-level TTL bounds entry lifetime across all processes; per-call
// TTLs shorter than the bucket TTL are honored by an expiry timestamp stored
// with the value.
type NATSKVCache struct {
	kv     nats.KeyValue
	logger *slog.Logger
	now    func() time.Time
}

// NewNATSKVCache creates or binds the shared bucket.
func NewNATSKVCache(conn *nats.Conn, bucket string, maxTTL time.Duration, logger *slog.Logger) (*NATSKVCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: bucket,
			TTL:    maxTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
		}
	}
	return &NATSKVCache{kv: kv, logger: logger, now: time.Now}, nil
}

func (c *NATSKVCache) Get(_ context.Context, key string) ([]byte, bool) {
	entry, err := c.kv.Get(encodeKey(key))
	if err != nil {
		return nil, false
	}
	value, expiresAt, ok := decodeValue(entry.Value())
	if !ok || c.now().After(expiresAt) {
		return nil, false
	}
	return value, true
}

func (c *NATSKVCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if _, err := c.kv.Put(encodeKey(key), encodeValue(value, c.now().Add(ttl))); err != nil {
		c.logger.Warn("shared_cache_set_failed", "key", key, "error", err)
	}
}

func (c *NATSKVCache) Delete(_ context.Context, key string) {
	if err := c.kv.Delete(encodeKey(key)); err != nil && err != nats.ErrKeyNotFound {
		c.logger.Warn("shared_cache_delete_failed", "key", key, "error", err)
	}
}

func (c *NATSKVCache) DeletePattern(_ context.Context, prefix string) {
	keys, err := c.kv.Keys()
	if err != nil {
		if err != nats.ErrNoKeysFound {
			c.logger.Warn("shared_cache_scan_failed", "prefix", prefix, "error", err)
		}
		return
	}
	encodedPrefix := encodeKey(prefix)
	for _, key := range keys {
		if strings.HasPrefix(key, encodedPrefix) {
			if err := c.kv.Delete(key); err != nil && err != nats.ErrKeyNotFound {
				c.logger.Warn("shared_cache_delete_failed", "key", key, "error", err)
			}
		}
	}
}

// encodeKey maps fingerprints onto the KV key alphabet (':' is not allowed).
func encodeKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

// Value layout: 8-byte big-endian unix-nano expiry, then the payload.
func encodeValue(value []byte, expiresAt time.Time) []byte {
	out := make([]byte, 8+len(value))
	nanos := uint64(expiresAt.UnixNano())
	for i := 0; i < 8; i++ {
		out[i] = byte(nanos >> (56 - 8*i))
	}
	copy(out[8:], value)
	return out
}

func decodeValue(raw []byte) ([]byte, time.Time, bool) {
	if len(raw) < 8 {
		return nil, time.Time{}, false
	}
	var nanos uint64
	for i := 0; i < 8; i++ {
		nanos = nanos<<8 | uint64(raw[i])
	}
	return raw[8:], time.Unix(0, int64(nanos)), true
}
