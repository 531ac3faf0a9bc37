package reusablestore

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// FileConfig is the YAML shape accepted by LoadConfig.
type FileConfig struct {
	Capacity         int           `yaml:"capacity"`
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	WritePolicy      string        `yaml:"write_policy"` // "optimistic" or "strict"
	Compression      string        `yaml:"compression"`
	CompressionLevel int           `yaml:"compression_level"`
	Password         string        `yaml:"password"`
	KeyLength        int           `yaml:"key_length"`
	Iterations       int           `yaml:"iterations"`
	Warmup           int           `yaml:"warmup"`
	CleanupMaxAge    time.Duration `yaml:"cleanup_max_age"`
	BackendRetries   uint64        `yaml:"backend_retries"`
	Backend          string        `yaml:"backend"` // "", "file", "valkey", "redis", "best"
	CacheID          string        `yaml:"cache_id"`
	Addr             string        `yaml:"addr"`
}

// LoadConfig reads a YAML config file and converts it to options,
// suitable for passing straight to New.
func LoadConfig(path string) ([]Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return fc.Options()
}

// Options converts a FileConfig to the equivalent option list.
func (fc FileConfig) Options() ([]Option, error) {
	var opts []Option

	if fc.Capacity > 0 {
		opts = append(opts, WithCapacity(fc.Capacity))
	}
	if fc.DefaultTTL > 0 {
		opts = append(opts, WithDefaultTTL(fc.DefaultTTL))
	}
	switch fc.WritePolicy {
	case "", "optimistic":
	case "strict":
		opts = append(opts, WithWritePolicy(WriteThroughStrict))
	default:
		return nil, fmt.Errorf("unknown write policy %q", fc.WritePolicy)
	}
	if fc.Compression != "" {
		opts = append(opts, WithCompression(fc.Compression, fc.CompressionLevel))
	}
	if fc.Password != "" {
		opts = append(opts, WithEncryption(fc.Password, fc.KeyLength))
	}
	if fc.Iterations > 0 {
		opts = append(opts, WithKeyIterations(fc.Iterations))
	}
	if fc.Warmup > 0 {
		opts = append(opts, WithWarmup(fc.Warmup))
	}
	if fc.CleanupMaxAge > 0 {
		opts = append(opts, WithCleanup(fc.CleanupMaxAge))
	}
	if fc.BackendRetries > 0 {
		opts = append(opts, WithBackendRetries(fc.BackendRetries))
	}

	switch fc.Backend {
	case "":
	case "file":
		opts = append(opts, WithLocalStore(fc.CacheID))
	case "valkey":
		opts = append(opts, WithValkeyStore(fc.CacheID, fc.Addr))
	case "redis":
		opts = append(opts, WithRedisStore(fc.CacheID, fc.Addr))
	case "best":
		opts = append(opts, WithBestStore(fc.CacheID))
	default:
		return nil, fmt.Errorf("unknown backend %q", fc.Backend)
	}

	return opts, nil
}
