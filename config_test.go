package reusablestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	data := []byte(`
capacity: 500
default_ttl: 1h
write_policy: strict
compression: zstd
compression_level: 3
password: hunter2
warmup: 50
cleanup_max_age: 24h
backend_retries: 3
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Capacity != 500 {
		t.Errorf("Capacity = %d; want 500", cfg.Capacity)
	}
	if cfg.DefaultTTL != time.Hour {
		t.Errorf("DefaultTTL = %v; want 1h", cfg.DefaultTTL)
	}
	if cfg.WritePolicy != WriteThroughStrict {
		t.Errorf("WritePolicy = %v; want strict", cfg.WritePolicy)
	}
	if cfg.Codec != "zstd" {
		t.Errorf("Codec = %q; want zstd", cfg.Codec)
	}
	if cfg.Password != "hunter2" {
		t.Errorf("Password = %q; want hunter2", cfg.Password)
	}
	if cfg.Warmup != 50 {
		t.Errorf("Warmup = %d; want 50", cfg.Warmup)
	}
	if cfg.CleanupMaxAge != 24*time.Hour {
		t.Errorf("CleanupMaxAge = %v; want 24h", cfg.CleanupMaxAge)
	}
	if cfg.BackendRetries != 3 {
		t.Errorf("BackendRetries = %d; want 3", cfg.BackendRetries)
	}
}

func TestLoadConfig_EmptyFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(opts) != 0 {
		t.Errorf("empty config produced %d options; want 0", len(opts))
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should be an error")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("capacity: [not an int\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed YAML should be an error")
	}
}

func TestFileConfig_Validation(t *testing.T) {
	if _, err := (FileConfig{WritePolicy: "maybe"}).Options(); err == nil {
		t.Error("unknown write policy should be rejected")
	}
	if _, err := (FileConfig{Backend: "tape"}).Options(); err == nil {
		t.Error("unknown backend should be rejected")
	}
	if _, err := (FileConfig{WritePolicy: "optimistic", Backend: "file", CacheID: "x"}).Options(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestLoadConfig_EndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	if err := os.WriteFile(path, []byte("capacity: 64\ncompression: s2\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	ctx := context.Background()
	cache, err := New(ctx, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	if err := cache.Set(ctx, "id", "s", StringValue("configured"), future()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	res, err := cache.Get(ctx, "id", "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Value == nil || !res.Value.Equal(StringValue("configured")) {
		t.Errorf("Get = %+v; want configured", res.Value)
	}
}
