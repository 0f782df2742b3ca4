// Package backup takes periodic snapshots of the visitor database, keeps
// the newest few on disk and optionally ships them to S3.
package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
)

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24

	snapshotPrefix = "tunnelscope-"
	exportPrefix   = "visitors-"
	stampLayout    = "20060102-150405"
)

// Manager runs periodic local snapshots and optional remote uploads.
type Manager struct {
	store    Snapshotter
	exporter Exporter
	cfg      Config
	uploader Uploader
	clock    clock.Clock

	// ctx is cancelled by Stop to abort in-flight uploads.
	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager validates cfg, takes a first snapshot and starts the periodic
// loop. It returns nil when backups are disabled. exporter may be nil.
func NewManager(store Snapshotter, exporter Exporter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	m, err := newManager(store, exporter, cfg)
	if err != nil {
		return nil, err
	}

	if err := m.RunOnce(m.ctx); err != nil {
		log.Printf("backup: startup snapshot failed: %v", err)
	}

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func newManager(store Snapshotter, exporter Exporter, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, fmt.Errorf("backup: db-path is empty (in-memory store)")
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, fmt.Errorf("backup: local-dir is required when backup is enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create local-dir: %w", err)
	}

	m := &Manager{
		store:    store,
		exporter: exporter,
		cfg:      cfg,
		clock:    cfg.Clock,
		done:     make(chan struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	if strings.TrimSpace(cfg.ExportFormat) == "" {
		m.exporter = nil
	}

	if strings.TrimSpace(cfg.BucketURL) != "" {
		u, err := NewS3Uploader(S3Config{
			BucketURL:    cfg.BucketURL,
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			SessionToken: cfg.S3SessionToken,
			UseSSL:       cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("backup: init s3 uploader: %w", err)
		}
		m.uploader = u
	}
	return m, nil
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.clock.After(m.cfg.Interval):
			if err := m.RunOnce(m.ctx); err != nil {
				log.Printf("backup: periodic snapshot failed: %v", err)
			}
		case <-m.done:
			return
		}
	}
}

// RunOnce creates one snapshot (plus an export when configured), uploads
// the artifacts and prunes old local copies.
func (m *Manager) RunOnce(ctx context.Context) error {
	stamp := m.clock.Now().UTC().Format(stampLayout)

	snapshot := filepath.Join(m.cfg.LocalDir, snapshotPrefix+stamp+".duckdb")
	if err := m.store.SnapshotTo(snapshot); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	log.Printf("backup: created snapshot %s", snapshot)
	artifacts := []string{snapshot}

	if m.exporter != nil {
		path, err := m.writeExport(stamp)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		artifacts = append(artifacts, path)
	}

	if m.uploader != nil {
		for _, p := range artifacts {
			if err := m.uploader.UploadFile(ctx, p); err != nil {
				return fmt.Errorf("upload %s: %w", filepath.Base(p), err)
			}
			log.Printf("backup: uploaded %s", filepath.Base(p))
		}
	}

	for _, prefix := range []string{snapshotPrefix, exportPrefix} {
		if err := prune(m.cfg.LocalDir, prefix, m.cfg.KeepLast); err != nil {
			return fmt.Errorf("prune local backups: %w", err)
		}
	}
	return nil
}

func (m *Manager) writeExport(stamp string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(m.cfg.ExportFormat))
	path := filepath.Join(m.cfg.LocalDir, exportPrefix+stamp+"."+format)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := m.exporter.ExportVisitors(f, format); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// Stop terminates the periodic loop and cancels any upload in flight. It
// is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		close(m.done)
		m.wg.Wait()
	})
}

// prune keeps the newest keepLast files starting with prefix. The embedded
// timestamp makes lexical order chronological.
func prune(dir, prefix string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*"))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, old := range matches[keepLast:] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
