// Package tunnel supervises a relay client process, watches its output for
// the public URL and inbound connections, and dispatches enrichment for each
// detected address.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/tinytelemetry/tunnelscope/internal/model"
	"github.com/tinytelemetry/tunnelscope/internal/relayparse"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultGracePeriod is how long a terminated relay may take to exit
	// before it is killed.
	DefaultGracePeriod = 2 * time.Second

	// DefaultMaxLineSize is the longest relay output line accepted.
	DefaultMaxLineSize = 1024 * 1024
)

// ErrSessionActive is returned by Start while a previous session still runs.
var ErrSessionActive = errors.New("tunnel: session already active")

// Enricher resolves one detected address and reports through emit.
type Enricher interface {
	Enrich(ctx context.Context, ip string, emit model.Emitter)
}

// Config holds the collaborators of a Supervisor.
type Config struct {
	Launcher    Launcher
	Enricher    Enricher
	Emitter     model.Emitter
	Clock       clock.Clock
	GracePeriod time.Duration
	MaxLineSize int
}

// Supervisor owns at most one tunnel session at a time. Start and Stop may
// be called from any goroutine.
type Supervisor struct {
	launcher Launcher
	enricher Enricher
	emitter  model.Emitter
	clock    clock.Clock
	grace    time.Duration
	maxLine  int

	mu     sync.Mutex
	nextID uint64
	sess   *session
}

type session struct {
	id  uint64
	cfg model.TunnelConfig

	running atomic.Bool

	mu       sync.Mutex
	state    model.SessionState
	urlFound bool
	url      string
	timer    clock.Timer
	proc     Process

	tasks errgroup.Group
	done  chan struct{}
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Launcher == nil {
		cfg.Launcher = ExecLauncher{}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = model.EmitterFunc(func(model.Event) {})
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = DefaultMaxLineSize
	}
	return &Supervisor{
		launcher: cfg.Launcher,
		enricher: cfg.Enricher,
		emitter:  cfg.Emitter,
		clock:    cfg.Clock,
		grace:    cfg.GracePeriod,
		maxLine:  cfg.MaxLineSize,
	}
}

// Start opens a tunnel session. It returns once the relay process has been
// spawned; output is consumed on a separate goroutine until the session
// ends. Session-fatal failures are also reported as events.
func (s *Supervisor) Start(ctx context.Context, cfg model.TunnelConfig) error {
	cfg = cfg.WithDefaults()

	argv, err := Command(cfg.Provider)
	if err != nil {
		s.logf(model.LevelError, "Unknown tunnel type: %s", cfg.Provider)
		return err
	}

	s.mu.Lock()
	if s.sess != nil && s.sess.running.Load() {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.nextID++
	sess := &session{
		id:    s.nextID,
		cfg:   cfg,
		state: model.StateStarting,
		done:  make(chan struct{}),
	}
	sess.running.Store(true)
	s.sess = sess
	s.mu.Unlock()

	s.logf(model.LevelInfo, "Starting %s tunnel...", DisplayName(cfg.Provider))

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	sess.mu.Lock()
	sess.timer = s.clock.AfterFunc(timeout, func() { s.onTimeout(sess) })
	sess.mu.Unlock()

	proc, err := s.launcher.Launch(argv)
	if err != nil {
		msg := fmt.Sprintf("Failed to start tunnel: %v", err)
		if sess.claimFailure(model.StateFailed) {
			s.logf(model.LevelError, "%s", msg)
			s.emitter.Emit(model.ConnectionError{Message: msg})
		}
		s.stopSession(sess)
		close(sess.done)
		return fmt.Errorf("tunnel: spawn %s: %w", argv[0], err)
	}

	sess.mu.Lock()
	if !sess.running.Load() {
		// Stopped or timed out while spawning.
		sess.mu.Unlock()
		s.terminate(proc)
		close(sess.done)
		return nil
	}
	sess.proc = proc
	sess.mu.Unlock()

	log.Printf("tunnel: session %d started %s (pid %d)", sess.id, strings.Join(argv, " "), proc.Pid())
	s.logf(model.LevelSuccess, "IP tracking service initialized")

	go s.readLoop(ctx, sess, proc)
	return nil
}

// Stop ends the active session. It is idempotent and safe to call while the
// read loop is blocked; terminating the relay unblocks the pending read.
// In-flight enrichment is not cancelled.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess != nil {
		s.stopSession(sess)
	}
}

// Done returns a channel closed when the current session's read loop has
// exited. With no session it returns a closed channel.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sess.done
}

// Wait blocks until the current session's read loop and every enrichment
// it dispatched have finished, or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return nil
	}

	finished := make(chan struct{})
	go func() {
		<-sess.done
		_ = sess.tasks.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the lifecycle state of the current session.
func (s *Supervisor) State() model.SessionState {
	return s.Status().State
}

// Running reports whether a session is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	return sess != nil && sess.running.Load()
}

// Status returns a snapshot of the current session.
func (s *Supervisor) Status() model.TunnelStatus {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return model.TunnelStatus{State: model.StateIdle}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	st := model.TunnelStatus{
		State:    sess.state,
		Provider: sess.cfg.Provider,
		URL:      sess.url,
		Running:  sess.running.Load(),
	}
	if sess.proc != nil && st.Running {
		st.PID = sess.proc.Pid()
	}
	return st
}

func (s *Supervisor) readLoop(ctx context.Context, sess *session, proc Process) {
	defer close(sess.done)

	out := proc.Output()
	defer out.Close()

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), s.maxLine)

	for sess.running.Load() && scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		s.handleLine(ctx, sess, line)
	}

	if err := scanner.Err(); err != nil && sess.running.Load() {
		if sess.claimFailure(model.StateFailed) {
			msg := fmt.Sprintf("Tunnel error: %v", err)
			s.logf(model.LevelError, "%s", msg)
			s.emitter.Emit(model.ConnectionError{Message: msg})
		}
		s.stopSession(sess)
		return
	}

	sess.mu.Lock()
	unexpected := !sess.urlFound && sess.claimFailureLocked(model.StateFailed)
	sess.mu.Unlock()

	if unexpected {
		s.emitter.Emit(model.ConnectionError{Message: "Tunnel process terminated unexpectedly"})
	} else if sess.running.Load() {
		log.Printf("tunnel: session %d relay exited", sess.id)
	}
	s.stopSession(sess)
}

// handleLine applies URL detection before address detection.
func (s *Supervisor) handleLine(ctx context.Context, sess *session, line string) {
	res := relayparse.Classify(sess.cfg.Provider, line)
	if res.Empty() {
		log.Printf("tunnel: relay [%s] %s", relayparse.Severity(line), line)
		return
	}

	if res.HasURL() && s.markConnected(sess, res.URL) {
		s.emitter.Emit(model.URLReady{URL: res.URL})
		s.logf(model.LevelSuccess, "Tracking URL ready: %s", res.URL)
	}

	if res.HasAddr() {
		s.logf(model.LevelInfo, "Connection detected from %s", res.Addr)
		s.dispatch(ctx, sess, res.Addr)
	}
}

// markConnected records the first URL of the session and cancels the
// timeout alarm. It reports false for every later URL.
func (s *Supervisor) markConnected(sess *session, url string) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.urlFound || !sess.running.Load() || sess.state == model.StateTimedOut {
		return false
	}
	sess.urlFound = true
	sess.url = url
	sess.state = model.StateConnected
	sess.cancelTimerLocked()
	return true
}

func (s *Supervisor) dispatch(ctx context.Context, sess *session, ip string) {
	if s.enricher == nil {
		return
	}
	// Enrichment outlives Stop; each lookup carries its own timeout.
	ectx := context.WithoutCancel(ctx)
	sess.tasks.Go(func() error {
		s.enricher.Enrich(ectx, ip, s.emitter)
		return nil
	})
}

func (s *Supervisor) onTimeout(sess *session) {
	sess.mu.Lock()
	if sess.timer == nil || sess.urlFound || !sess.claimFailureLocked(model.StateTimedOut) {
		sess.mu.Unlock()
		return
	}
	sess.timer = nil
	sess.mu.Unlock()

	s.logf(model.LevelError, "Connection timeout reached")
	s.emitter.Emit(model.ConnectionError{
		Message: "Failed to establish tunnel connection. Check your internet connection and try again.",
	})
	s.stopSession(sess)
}

// stopSession moves sess to terminated exactly once.
func (s *Supervisor) stopSession(sess *session) {
	if !sess.running.CompareAndSwap(true, false) {
		return
	}

	sess.mu.Lock()
	sess.cancelTimerLocked()
	proc := sess.proc
	if sess.state != model.StateFailed && sess.state != model.StateTimedOut {
		sess.state = model.StateTerminated
	}
	sess.mu.Unlock()

	if proc != nil {
		s.terminate(proc)
	}
	log.Printf("tunnel: session %d terminated", sess.id)
}

// terminate asks proc to exit and kills it after the grace period.
func (s *Supervisor) terminate(proc Process) {
	if err := proc.Terminate(); err != nil {
		s.logf(model.LevelWarning, "Error stopping process: %v", err)
	}
	select {
	case <-proc.Done():
		return
	case <-s.clock.After(s.grace):
	}
	if err := proc.Kill(); err != nil {
		s.logf(model.LevelWarning, "Error stopping process: %v", err)
	}
}

func (s *Supervisor) logf(level model.Level, format string, args ...any) {
	s.emitter.Emit(model.LogMessage{
		Text:  fmt.Sprintf(format, args...),
		Level: level,
		Time:  s.clock.Now(),
	})
}

// claimFailure moves a running session to the failed or timed-out state.
// Only the first claim succeeds, and only that caller reports the failure,
// so a session emits at most one ConnectionError.
func (sess *session) claimFailure(state model.SessionState) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.claimFailureLocked(state)
}

func (sess *session) claimFailureLocked(state model.SessionState) bool {
	if !sess.running.Load() || sess.state == model.StateFailed || sess.state == model.StateTimedOut {
		return false
	}
	sess.state = state
	return true
}

func (sess *session) cancelTimerLocked() {
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
}
