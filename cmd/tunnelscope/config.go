package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/tunnelscope/internal/backup"
	"github.com/tinytelemetry/tunnelscope/internal/export"
	"github.com/tinytelemetry/tunnelscope/internal/geoip"
	"github.com/tinytelemetry/tunnelscope/internal/ingest"
	"github.com/tinytelemetry/tunnelscope/internal/model"
	"github.com/tinytelemetry/tunnelscope/internal/socketrpc"
	"github.com/tinytelemetry/tunnelscope/internal/tunnel"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultAPIPort             = 8420
	defaultQueryTimeout        = 30 * time.Second
	defaultMaxConcurrentReads  = 8
	defaultInsertBatchSize     = 200
	defaultInsertFlushInterval = 250 * time.Millisecond
	defaultInsertFlushQueue    = 64
	defaultVisitorRetention    = 0 // days, 0 = disabled
	defaultBackupInterval      = 6 * time.Hour
	defaultBackupKeepLast      = 7
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Provider       string        `mapstructure:"provider"`
	TimeoutSeconds int           `mapstructure:"timeout-seconds"`
	Autostart      bool          `mapstructure:"autostart"`
	LookupEndpoint string        `mapstructure:"lookup-endpoint"`
	LookupTimeout  time.Duration `mapstructure:"lookup-timeout"`
	GracePeriod    time.Duration `mapstructure:"grace-period"`
	Processor      string        `mapstructure:"processor"`
	EventBuffer    int           `mapstructure:"event-buffer"`

	DBPath              string        `mapstructure:"db-path"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout"`
	MaxConcurrentReads  int           `mapstructure:"max-concurrent-queries"`
	JournalEnabled      bool          `mapstructure:"journal-enabled"`
	JournalPath         string        `mapstructure:"journal-path"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	VisitorRetention    int           `mapstructure:"visitor-retention"`

	APIEnabled bool   `mapstructure:"api-enabled"`
	APIPort    int    `mapstructure:"api-port"`
	APIAddr    string `mapstructure:"api-addr"`
	SocketPath string `mapstructure:"socket-path"`

	BackupEnabled        bool          `mapstructure:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last"`
	BackupExportFormat   string        `mapstructure:"backup-export-format"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "tunnelscope")

	v := viper.New()
	v.SetEnvPrefix("TUNNELSCOPE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("provider", string(model.ProviderServeo))
	v.SetDefault("timeout-seconds", model.DefaultTimeoutSeconds)
	v.SetDefault("autostart", true)
	v.SetDefault("lookup-endpoint", geoip.DefaultEndpoint)
	v.SetDefault("lookup-timeout", geoip.DefaultTimeout)
	v.SetDefault("grace-period", tunnel.DefaultGracePeriod)
	v.SetDefault("processor", ingest.ProcessorModeStore)
	v.SetDefault("event-buffer", model.DefaultEventBuffer)

	v.SetDefault("db-path", filepath.Join(dataDir, "visitors.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("max-concurrent-queries", defaultMaxConcurrentReads)
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", filepath.Join(dataDir, "visitors.journal"))
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("visitor-retention", defaultVisitorRetention)

	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())

	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-export-format", "")
	v.SetDefault("backup-s3-use-ssl", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "tunnelscope", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, statErr := os.Stat(cfg.ConfigPath); statErr != nil {
		cfg.ConfigPath = ""
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.JournalPath = expandHome(home, cfg.JournalPath)
	cfg.BackupLocalDir = expandHome(home, cfg.BackupLocalDir)
	cfg.SocketPath = expandHome(home, cfg.SocketPath)

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func (cfg *appConfig) validate() error {
	provider := model.ParseProvider(cfg.Provider)
	if !provider.Valid() {
		return fmt.Errorf("invalid provider: %q (want serveo or localhost.run)", cfg.Provider)
	}
	cfg.Provider = string(provider)

	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("invalid timeout-seconds: %d", cfg.TimeoutSeconds)
	}
	if cfg.LookupTimeout <= 0 {
		return fmt.Errorf("invalid lookup-timeout: %s", cfg.LookupTimeout)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.VisitorRetention < 0 {
		return fmt.Errorf("invalid visitor-retention: %d", cfg.VisitorRetention)
	}
	if cfg.BackupExportFormat != "" {
		if _, err := export.ParseFormat(cfg.BackupExportFormat); err != nil {
			return fmt.Errorf("invalid backup-export-format: %w", err)
		}
	}
	return nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func (cfg appConfig) tunnelConfig() model.TunnelConfig {
	return model.TunnelConfig{
		Provider:       model.Provider(cfg.Provider),
		TimeoutSeconds: cfg.TimeoutSeconds,
	}
}

func (cfg appConfig) backupConfig() backup.Config {
	return backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		ExportFormat:   cfg.BackupExportFormat,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
	}
}
