package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

type fakeSnapshotter struct {
	dbPath string
	data   []byte
}

func (f *fakeSnapshotter) DBPath() string { return f.dbPath }

func (f *fakeSnapshotter) SnapshotTo(dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(dstPath, f.data, 0644)
}

type fakeExporter struct {
	formats []string
	err     error
}

func (f *fakeExporter) ExportVisitors(w io.Writer, format string) error {
	f.formats = append(f.formats, format)
	if f.err != nil {
		return f.err
	}
	_, err := fmt.Fprintf(w, "visitors as %s\n", format)
	return err
}

type recordingUploader struct {
	mu    sync.Mutex
	paths []string
}

func (u *recordingUploader) UploadFile(_ context.Context, p string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, filepath.Base(p))
	return nil
}

var backupStart = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

func testManager(t *testing.T, exp Exporter, cfg Config) (*Manager, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(backupStart)
	cfg.Enabled = true
	cfg.Clock = clk
	if cfg.LocalDir == "" {
		cfg.LocalDir = t.TempDir()
	}
	m, err := newManager(&fakeSnapshotter{dbPath: "/tmp/tunnelscope.duckdb", data: []byte("snapshot")}, exp, cfg)
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	return m, clk
}

func TestNewManager_Disabled(t *testing.T) {
	t.Parallel()

	m, err := NewManager(&fakeSnapshotter{dbPath: "/tmp/tunnelscope.duckdb"}, nil, Config{})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil manager when disabled")
	}
}

func TestNewManager_EnabledRequiresDBPath(t *testing.T) {
	t.Parallel()

	_, err := NewManager(&fakeSnapshotter{}, nil, Config{Enabled: true, LocalDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error for empty db path")
	}
}

func TestNewManager_EnabledRequiresLocalDir(t *testing.T) {
	t.Parallel()

	_, err := NewManager(&fakeSnapshotter{dbPath: "/tmp/x.duckdb"}, nil, Config{Enabled: true})
	if err == nil || !strings.Contains(err.Error(), "local-dir") {
		t.Fatalf("err = %v, want local-dir error", err)
	}
}

func TestRunOnce_CreatesAndPrunesLocalBackups(t *testing.T) {
	t.Parallel()

	m, clk := testManager(t, nil, Config{KeepLast: 2})
	for i := 0; i < 3; i++ {
		if err := m.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce #%d: %v", i+1, err)
		}
		clk.Advance(time.Second)
	}

	files, err := filepath.Glob(filepath.Join(m.cfg.LocalDir, "tunnelscope-*.duckdb"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("backup files = %d, want 2", len(files))
	}
	for _, f := range files {
		if strings.HasSuffix(f, "20250203-040506.duckdb") {
			t.Fatalf("oldest snapshot %s was not pruned", f)
		}
	}
}

func TestRunOnce_WritesExportAndUploadsBoth(t *testing.T) {
	t.Parallel()

	exp := &fakeExporter{}
	up := &recordingUploader{}
	m, _ := testManager(t, exp, Config{ExportFormat: "CSV"})
	m.uploader = up

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	exportPath := filepath.Join(m.cfg.LocalDir, "visitors-20250203-040506.csv")
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(data) != "visitors as csv\n" {
		t.Fatalf("export = %q", data)
	}
	want := []string{"tunnelscope-20250203-040506.duckdb", "visitors-20250203-040506.csv"}
	if strings.Join(up.paths, ",") != strings.Join(want, ",") {
		t.Fatalf("uploaded = %v, want %v", up.paths, want)
	}
}

func TestRunOnce_ExportFailureRemovesPartialFile(t *testing.T) {
	t.Parallel()

	m, _ := testManager(t, &fakeExporter{err: errors.New("db closed")}, Config{ExportFormat: "json"})
	if err := m.RunOnce(context.Background()); err == nil {
		t.Fatal("expected export error")
	}
	matches, _ := filepath.Glob(filepath.Join(m.cfg.LocalDir, "visitors-*"))
	if len(matches) != 0 {
		t.Fatalf("partial exports left behind: %v", matches)
	}
}

func TestRunOnce_NoExportWithoutFormat(t *testing.T) {
	t.Parallel()

	exp := &fakeExporter{}
	m, _ := testManager(t, exp, Config{})
	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(exp.formats) != 0 {
		t.Fatalf("exporter called without a format: %v", exp.formats)
	}
}

type blockingUploader struct {
	started chan struct{}
	once    sync.Once
}

func (u *blockingUploader) UploadFile(ctx context.Context, _ string) error {
	u.once.Do(func() { close(u.started) })
	<-ctx.Done()
	return ctx.Err()
}

func TestStop_CancelsInFlightUpload(t *testing.T) {
	t.Parallel()

	uploader := &blockingUploader{started: make(chan struct{})}
	m, clk := testManager(t, nil, Config{Interval: time.Minute})
	m.uploader = uploader

	m.wg.Add(1)
	go m.loop()

	if err := clk.WaitAdvance(time.Minute, 2*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance: %v", err)
	}
	select {
	case <-uploader.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upload to start")
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; upload likely not canceled")
	}
}
