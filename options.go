package reusablestore

import (
	"os"
	"time"

	"github.com/goobs/reusablestore/pkg/store"
)

const defaultCapacity = 16384

// WritePolicy selects how Set behaves when the backend write fails
// after the in-memory layer has already been updated.
type WritePolicy uint8

const (
	// WriteThroughOptimistic leaves the in-memory layer updated on
	// backend failure: readers keep seeing the new value even though the
	// backend never durably stored it (availability over consistency).
	WriteThroughOptimistic WritePolicy = iota

	// WriteThroughStrict rolls the in-memory layer back on backend
	// failure, so the two layers never diverge at the point Set returns.
	WriteThroughStrict
)

type backendKind uint8

const (
	backendNone backendKind = iota
	backendFile
	backendValkey
	backendRedis
	backendCustom
)

// Config holds the per-instance configuration. Instances are built from
// functional options; UpdateConfig replaces the configuration wholesale.
type Config struct {
	Capacity         int           // max entries in the in-memory layer
	DefaultTTL       time.Duration // TTL applied by Preload and GetOrSet fallback
	WritePolicy      WritePolicy   // backend-failure behavior of Set
	Codec            string        // compression codec (none, s2, zstd, lz4, gzip, brotli)
	CompressionLevel int           // codec-specific level
	Password         string        // encryption password; empty disables encryption
	KeyLength        int           // AES key length in bytes
	Iterations       int           // PBKDF2 iterations
	Warmup           int           // entries to preload from the backend at startup
	CleanupMaxAge    time.Duration // if > 0, purge backend entries expired longer than this at startup
	BackendRetries   uint64        // extra attempts for failed backend writes

	backend     backendKind
	cacheID     string
	addr        string
	customStore store.Store
	accessor    MetaAccessor
}

// Option configures a Cache.
type Option func(*Config)

// WithCapacity sets the maximum number of entries in the in-memory layer.
func WithCapacity(n int) Option {
	return func(c *Config) { c.Capacity = n }
}

// WithDefaultTTL sets the TTL used by Preload and as the uniform max age
// for entries written without one.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Config) { c.DefaultTTL = d }
}

// WithWritePolicy selects the backend-failure behavior of Set.
func WithWritePolicy(p WritePolicy) Option {
	return func(c *Config) { c.WritePolicy = p }
}

// WithCompression selects the compression codec and level applied to
// values before encryption.
func WithCompression(codec string, level int) Option {
	return func(c *Config) {
		c.Codec = codec
		c.CompressionLevel = level
	}
}

// WithEncryption enables AES-GCM encryption of stored values. keyLength
// must be 16, 24 or 32; 0 means 32.
func WithEncryption(password string, keyLength int) Option {
	return func(c *Config) {
		c.Password = password
		c.KeyLength = keyLength
	}
}

// WithKeyIterations sets the PBKDF2 iteration count for key derivation.
func WithKeyIterations(n int) Option {
	return func(c *Config) { c.Iterations = n }
}

// WithWarmup loads the n most recently updated backend entries into the
// in-memory layer at construction. 0 disables warmup.
func WithWarmup(n int) Option {
	return func(c *Config) { c.Warmup = n }
}

// WithCleanup runs a one-shot background sweep at construction, removing
// backend entries that expired more than maxAge ago.
func WithCleanup(maxAge time.Duration) Option {
	return func(c *Config) { c.CleanupMaxAge = maxAge }
}

// WithBackendRetries retries failed backend writes up to n extra times
// with exponential backoff before Set reports the failure.
func WithBackendRetries(n uint64) Option {
	return func(c *Config) { c.BackendRetries = n }
}

// WithLocalStore persists entries to local files under
// os.UserCacheDir()/cacheID.
func WithLocalStore(cacheID string) Option {
	return func(c *Config) {
		c.backend = backendFile
		c.cacheID = cacheID
	}
}

// WithValkeyStore persists entries to Valkey at addr ("host:port"),
// namespaced by cacheID.
func WithValkeyStore(cacheID, addr string) Option {
	return func(c *Config) {
		c.backend = backendValkey
		c.cacheID = cacheID
		c.addr = addr
	}
}

// WithRedisStore persists entries to Redis at addr ("host:port"),
// namespaced by cacheID.
func WithRedisStore(cacheID, addr string) Option {
	return func(c *Config) {
		c.backend = backendRedis
		c.cacheID = cacheID
		c.addr = addr
	}
}

// WithStore uses a caller-supplied backend. The cache takes ownership
// and closes it on Close.
func WithStore(s store.Store) Option {
	return func(c *Config) {
		c.backend = backendCustom
		c.customStore = s
	}
}

// WithBestStore automatically selects a persistence backend:
// Valkey if VALKEY_ADDR is set, Redis if REDIS_ADDR is set, local files
// otherwise.
func WithBestStore(cacheID string) Option {
	return func(c *Config) {
		c.cacheID = cacheID
		switch {
		case os.Getenv("VALKEY_ADDR") != "":
			c.backend = backendValkey
			c.addr = os.Getenv("VALKEY_ADDR")
		case os.Getenv("REDIS_ADDR") != "":
			c.backend = backendRedis
			c.addr = os.Getenv("REDIS_ADDR")
		default:
			c.backend = backendFile
		}
	}
}

// WithMetaAccessor stores per-key metadata (hit counts, timestamps)
// through the given accessor instead of the built-in in-process map.
func WithMetaAccessor(acc MetaAccessor) Option {
	return func(c *Config) { c.accessor = acc }
}

func defaultConfig() *Config {
	return &Config{
		Capacity:    defaultCapacity,
		WritePolicy: WriteThroughOptimistic,
		Codec:       "none",
	}
}
