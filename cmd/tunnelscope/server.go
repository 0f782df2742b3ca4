package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/tunnelscope/internal/backup"
	"github.com/tinytelemetry/tunnelscope/internal/duckdb"
	"github.com/tinytelemetry/tunnelscope/internal/eventbus"
	"github.com/tinytelemetry/tunnelscope/internal/export"
	"github.com/tinytelemetry/tunnelscope/internal/geoip"
	"github.com/tinytelemetry/tunnelscope/internal/httpserver"
	"github.com/tinytelemetry/tunnelscope/internal/ingest"
	"github.com/tinytelemetry/tunnelscope/internal/journal"
	"github.com/tinytelemetry/tunnelscope/internal/model"
	"github.com/tinytelemetry/tunnelscope/internal/socketrpc"
	"github.com/tinytelemetry/tunnelscope/internal/tunnel"
	"golang.org/x/sync/errgroup"
)

// enrichmentDrainTimeout bounds how long shutdown waits for in-flight lookups.
const enrichmentDrainTimeout = 6 * time.Second

// runServer starts the tunnel supervisor, persistence and the local APIs.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Initialize DuckDB store
	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()
	store.SetMaxConcurrentQueries(cfg.MaxConcurrentReads)

	// Open the visitor journal for crash-safe replay.
	var visitorJournal *journal.Journal
	if cfg.JournalEnabled {
		visitorJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open visitor journal: %w", err)
		}
		defer visitorJournal.Close()
		if err := replayUncommittedJournal(visitorJournal, store, cfg.InsertBatchSize); err != nil {
			return fmt.Errorf("failed to replay visitor journal: %w", err)
		}
	}

	insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
		Journal:        journalOrNil(visitorJournal),
	})
	defer insertBuffer.Stop()

	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		Retention: time.Duration(cfg.VisitorRetention) * 24 * time.Hour,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	backupManager, err := backup.NewManager(store, storeExporter{store: store}, cfg.backupConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	// Events fan out from the supervisor to persistence, the API and the TUI.
	bus := eventbus.New(model.DefaultLogBuffer)

	processor, err := ingest.NewEventProcessor(cfg.Processor, insertBuffer)
	if err != nil {
		return err
	}
	// Persistence never drops a visitor; a full buffer slows emitters instead.
	processorSub := bus.SubscribeLossless(cfg.EventBuffer)
	processorDone := make(chan struct{})
	go func() {
		defer close(processorDone)
		// Runs until the subscription closes so buffered visitors are kept.
		ingest.Run(context.Background(), processor, processorSub.C)
	}()

	supervisor := tunnel.NewSupervisor(tunnel.Config{
		Enricher: geoip.NewClient(geoip.Config{
			Endpoint: cfg.LookupEndpoint,
			Timeout:  cfg.LookupTimeout,
		}),
		Emitter:     bus,
		GracePeriod: cfg.GracePeriod,
	})

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, httpserver.Deps{
			Store:                 store,
			Tunnel:                supervisor,
			Events:                bus,
			Emitter:               bus,
			DefaultTimeoutSeconds: cfg.TimeoutSeconds,
		})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Start socket RPC server for TUI IPC
	sockServer := socketrpc.NewServer(cfg.SocketPath, socketrpc.Backend{
		Visitors:              store,
		Tunnel:                supervisor,
		Events:                bus,
		DefaultTimeoutSeconds: cfg.TimeoutSeconds,
	})
	if err := sockServer.Start(); err != nil {
		log.Printf("Warning: failed to start socket server: %v", err)
	} else {
		defer sockServer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	printStartupBanner(cfg, processor.Name())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Autostart {
		g.Go(func() error {
			if err := supervisor.Start(gctx, cfg.tunnelConfig()); err != nil {
				// Already reported on the bus; the service stays up for API control.
				log.Printf("server: autostart failed: %v", err)
			}
			return nil
		})
	}

	// Mirror the relay URL to stdout so a headless operator can see it.
	urlSub := bus.Subscribe(16)
	g.Go(func() error {
		defer urlSub.Close()
		for {
			select {
			case <-gctx.Done():
				return nil
			case e, ok := <-urlSub.C:
				if !ok {
					return nil
				}
				switch ev := e.(type) {
				case model.URLReady:
					fmt.Printf("    Tracking URL: %s\n", ev.URL)
				case model.ConnectionError:
					fmt.Printf("    Tunnel error: %s\n", ev.Message)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	supervisor.Stop()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), enrichmentDrainTimeout)
	if err := supervisor.Wait(drainCtx); err != nil {
		log.Printf("server: enrichment still running at shutdown: %v", err)
	}
	drainCancel()

	processorSub.Close()
	<-processorDone
	stats := processor.Stats()
	log.Printf("server: processed %d visitors, %d log lines, %d connection errors",
		stats.Visitors, stats.Logs, stats.ConnectionErrors)

	signal.Stop(sigCh)
	return nil
}

// storeExporter adapts the store to backup.Exporter.
type storeExporter struct {
	store model.VisitorQuerier
}

func (e storeExporter) ExportVisitors(w io.Writer, format string) error {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	visitors, err := e.store.RecentVisitors(model.VisitorFilter{Date: model.DateAll})
	if err != nil {
		return fmt.Errorf("query visitors: %w", err)
	}
	return export.Write(w, f, visitors)
}

// journalOrNil keeps a nil *journal.Journal from becoming a non-nil interface.
func journalOrNil(j *journal.Journal) duckdb.VisitorJournal {
	if j == nil {
		return nil
	}
	return j
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "tunnelscope")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "tunnelscope.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

// visitorBatchWriter is the store side of journal replay.
type visitorBatchWriter interface {
	InsertVisitorBatch(records []*model.VisitorRecord) error
}

func replayUncommittedJournal(j *journal.Journal, store visitorBatchWriter, batchSize int) error {
	if j == nil {
		return nil
	}
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}

	batch := make([]*model.VisitorRecord, 0, batchSize)
	batchMaxSeq := uint64(0)
	replayed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.InsertVisitorBatch(batch); err != nil {
			return err
		}
		if batchMaxSeq > 0 {
			if err := j.Commit(batchMaxSeq); err != nil {
				return err
			}
		}
		replayed += len(batch)
		batch = make([]*model.VisitorRecord, 0, batchSize)
		batchMaxSeq = 0
		return nil
	}

	if err := j.Replay(func(seq uint64, record *model.VisitorRecord) error {
		copied := *record
		batch = append(batch, &copied)
		if seq > batchMaxSeq {
			batchMaxSeq = seq
		}
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}); err != nil {
		return err
	}

	if err := flush(); err != nil {
		return err
	}
	if replayed > 0 {
		log.Printf("visitor journal: replayed %d uncommitted records", replayed)
	}
	return nil
}

func printStartupBanner(cfg appConfig, processorName string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	status := func(on bool, label, value string) string {
		mark := dot
		if on {
			mark = check
			value = cyan.Render(value)
		} else {
			value = dim.Render(value)
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, value)
	}

	logo := cyan.Bold(true).Render(`
    ╔╦╗╦ ╦╔╗╔╔╗╔╔═╗╦  ╔═╗╔═╗╔═╗╔═╗╔═╗
     ║ ║ ║║║║║║║║╣ ║  ╚═╗║  ║ ║╠═╝║╣
     ╩ ╚═╝╝╚╝╝╚╝╚═╝╩═╝╚═╝╚═╝╚═╝╩  ╚═╝`)

	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Tunnel"), "")
	autostart := "manual (API / TUI)"
	if cfg.Autostart {
		autostart = "autostart"
	}
	lines = append(lines,
		status(true, "Provider", tunnel.DisplayName(model.Provider(cfg.Provider))+" • "+autostart),
		status(true, "Timeout", fmt.Sprintf("%ds", cfg.TimeoutSeconds)),
		status(true, "Lookup", cfg.LookupEndpoint),
		"",
	)

	lines = append(lines, bold.Render("    Gateway"), "")
	if cfg.APIEnabled {
		lines = append(lines, status(true, "HTTP API", cfg.APIAddr))
	} else {
		lines = append(lines, status(false, "HTTP API", "disabled"))
	}
	lines = append(lines, status(true, "Unix Socket", shortenPath(cfg.SocketPath)), "")

	lines = append(lines, bold.Render("    Storage"), "")
	lines = append(lines, status(true, "Visitors", shortenPath(cfg.DBPath)))
	if cfg.JournalEnabled {
		lines = append(lines, status(true, "Journal", shortenPath(cfg.JournalPath)))
	} else {
		lines = append(lines, status(false, "Journal", "disabled"))
	}
	if cfg.BackupEnabled {
		lines = append(lines, status(true, "Snapshots", shortenPath(cfg.BackupLocalDir)))
	} else {
		lines = append(lines, status(false, "Snapshots", "disabled"))
	}
	if cfg.VisitorRetention > 0 {
		lines = append(lines, status(true, "Retention", fmt.Sprintf("%d days", cfg.VisitorRetention)))
	} else {
		lines = append(lines, status(false, "Retention", "keep forever"))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Runtime"), "")
	lines = append(lines, status(true, "Processor", processorName))
	if cfg.ConfigPath != "" {
		lines = append(lines, status(true, "Config File", shortenPath(cfg.ConfigPath)))
	} else {
		lines = append(lines, status(false, "Config File", "default (no file)"))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
