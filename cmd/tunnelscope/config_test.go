package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Provider != string(model.ProviderServeo) {
		t.Fatalf("expected serveo provider, got %q", cfg.Provider)
	}
	if cfg.TimeoutSeconds != model.DefaultTimeoutSeconds {
		t.Fatalf("expected %d second timeout, got %d", model.DefaultTimeoutSeconds, cfg.TimeoutSeconds)
	}
	if cfg.LookupTimeout != 5*time.Second {
		t.Fatalf("expected 5s lookup timeout, got %s", cfg.LookupTimeout)
	}
	if cfg.APIAddr != "127.0.0.1:8420" {
		t.Fatalf("unexpected api addr %q", cfg.APIAddr)
	}
	if !strings.HasPrefix(cfg.DBPath, home) {
		t.Fatalf("db path %q not under home %q", cfg.DBPath, home)
	}
	if cfg.ConfigPath != "" {
		t.Fatalf("expected no config file, got %q", cfg.ConfigPath)
	}
	if cfg.tunnelConfig().Provider != model.ProviderServeo {
		t.Fatalf("unexpected tunnel config %+v", cfg.tunnelConfig())
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TUNNELSCOPE_PROVIDER", "localhost.run")
	t.Setenv("TUNNELSCOPE_TIMEOUT_SECONDS", "15")
	t.Setenv("TUNNELSCOPE_API_PORT", "9999")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Provider != string(model.ProviderLocalhostRun) {
		t.Fatalf("expected localhost.run, got %q", cfg.Provider)
	}
	if cfg.TimeoutSeconds != 15 {
		t.Fatalf("expected timeout 15, got %d", cfg.TimeoutSeconds)
	}
	if cfg.APIAddr != "127.0.0.1:9999" {
		t.Fatalf("unexpected api addr %q", cfg.APIAddr)
	}
}

func TestLoadConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, "config.yml")
	body := "provider: localhost.run\nlookup-timeout: 2s\ndb-path: ~/data/v.duckdb\nvisitor-retention: 30\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ConfigPath != path {
		t.Fatalf("expected config path %q, got %q", path, cfg.ConfigPath)
	}
	if cfg.LookupTimeout != 2*time.Second {
		t.Fatalf("expected 2s lookup timeout, got %s", cfg.LookupTimeout)
	}
	if cfg.DBPath != filepath.Join(home, "data", "v.duckdb") {
		t.Fatalf("expected expanded db path, got %q", cfg.DBPath)
	}
	if cfg.VisitorRetention != 30 {
		t.Fatalf("expected retention 30, got %d", cfg.VisitorRetention)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"provider", "TUNNELSCOPE_PROVIDER", "ngrok"},
		{"timeout", "TUNNELSCOPE_TIMEOUT_SECONDS", "0"},
		{"api port", "TUNNELSCOPE_API_PORT", "70000"},
		{"retention", "TUNNELSCOPE_VISITOR_RETENTION", "-1"},
		{"export format", "TUNNELSCOPE_BACKUP_EXPORT_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			t.Setenv(tt.env, tt.val)
			if _, err := loadConfig(""); err == nil {
				t.Fatalf("expected error for %s=%s", tt.env, tt.val)
			}
		})
	}
}

func TestBackupConfigCarriesSettings(t *testing.T) {
	cfg := appConfig{
		BackupEnabled:      true,
		BackupInterval:     time.Hour,
		BackupLocalDir:     "/tmp/b",
		BackupKeepLast:     3,
		BackupExportFormat: "csv",
		BackupBucketURL:    "s3://bucket/prefix",
	}
	bc := cfg.backupConfig()
	if !bc.Enabled || bc.Interval != time.Hour || bc.LocalDir != "/tmp/b" || bc.KeepLast != 3 {
		t.Fatalf("unexpected backup config %+v", bc)
	}
	if bc.ExportFormat != "csv" || bc.BucketURL != "s3://bucket/prefix" {
		t.Fatalf("unexpected backup targets %+v", bc)
	}
}
