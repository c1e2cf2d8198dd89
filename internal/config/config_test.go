package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConnectionString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBHost = "db.example"
	cfg.DBName = "gis"
	cfg.DBUser = "editor"

	got := cfg.ConnectionString()
	want := "host=db.example port=5432 dbname=gis user=editor sslmode=disable"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	cfg.DBPassword = "secret"
	if !strings.Contains(cfg.ConnectionString(), "password=secret") {
		t.Error("password missing from connection string")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
db_host: db.internal
db_port: 5433
batch_size: 500
lock_retries: 5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.DBHost != "db.internal" || cfg.DBPort != 5433 {
		t.Errorf("database settings not loaded: %s:%d", cfg.DBHost, cfg.DBPort)
	}
	if cfg.BatchSize != 500 || cfg.LockRetries != 5 {
		t.Errorf("engine settings not loaded: %d, %d", cfg.BatchSize, cfg.LockRetries)
	}
	// Untouched fields keep their defaults.
	if cfg.DBName != "osm" {
		t.Errorf("default db name lost: %q", cfg.DBName)
	}

	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	cfg.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero batch size accepted")
	}

	cfg = DefaultConfig()
	cfg.LockRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative lock retries accepted")
	}
}
