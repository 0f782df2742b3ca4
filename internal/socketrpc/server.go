package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (64 KB).
	scannerInitBufSize = 64 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (1 MB).
	scannerMaxTokenSize = 1024 * 1024

	defaultRecentEvents = 100
)

// TunnelControl starts, stops and reports on the tunnel supervisor.
type TunnelControl interface {
	Start(ctx context.Context, cfg model.TunnelConfig) error
	Stop()
	Status() model.TunnelStatus
}

// EventHistory returns the most recent events, oldest first.
type EventHistory interface {
	Recent(n int) []model.Event
}

// Backend groups what the server exposes. Tunnel and Events may be nil.
type Backend struct {
	Visitors model.VisitorQuerier
	Tunnel   TunnelControl
	Events   EventHistory
	// DefaultTimeoutSeconds applies to StartTunnel calls that omit one.
	DefaultTimeoutSeconds int
}

// Server exposes a Backend over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	backend    Backend
	listener   net.Listener
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer creates a new socket RPC server.
func NewServer(socketPath string, backend Backend) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		backend:    backend,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	log.Printf("socketrpc: listening on %s", s.socketPath)
	return nil
}

// Stop closes the listener and open connections, waits for handlers to
// drain and removes the socket file. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("socketrpc: accept error: %v", err)
				// Transient errors (e.g. fd limit) must not end the loop.
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		if s.ctx.Err() != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: codeParse, Message: "parse error"}}
			encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v any, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: codeApplication, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: codeInternal, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	disabled := func(what string) Response {
		resp.Error = &RPCError{Code: codeDisabled, Message: what + " is disabled"}
		return resp
	}

	switch req.Method {
	case "TotalVisitors":
		return marshalResult(s.backend.Visitors.TotalVisitors())

	case "RecentVisitors":
		var p struct{ Filter model.VisitorFilter }
		if err := json.Unmarshal(req.Params, &p); err != nil && len(req.Params) > 0 {
			return invalidParams(err)
		}
		if p.Filter.Date == "" {
			p.Filter.Date = model.DateAll
		}
		return marshalResult(s.backend.Visitors.RecentVisitors(p.Filter))

	case "ListCountries":
		return marshalResult(s.backend.Visitors.ListCountries())

	case "TopCountries":
		var p struct{ Limit int }
		if err := json.Unmarshal(req.Params, &p); err != nil && len(req.Params) > 0 {
			return invalidParams(err)
		}
		return marshalResult(s.backend.Visitors.TopCountries(p.Limit))

	case "TunnelStatus":
		if s.backend.Tunnel == nil {
			return disabled("tunnel control")
		}
		return marshalResult(s.backend.Tunnel.Status(), nil)

	case "StartTunnel":
		if s.backend.Tunnel == nil {
			return disabled("tunnel control")
		}
		var p struct {
			Provider       string
			TimeoutSeconds int
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = s.backend.DefaultTimeoutSeconds
		}
		err := s.backend.Tunnel.Start(s.ctx, model.TunnelConfig{
			Provider:       model.ParseProvider(p.Provider),
			TimeoutSeconds: p.TimeoutSeconds,
		})
		return marshalResult(s.backend.Tunnel.Status(), err)

	case "StopTunnel":
		if s.backend.Tunnel == nil {
			return disabled("tunnel control")
		}
		s.backend.Tunnel.Stop()
		return marshalResult(s.backend.Tunnel.Status(), nil)

	case "RecentEvents":
		if s.backend.Events == nil {
			return disabled("event history")
		}
		var p struct{ N int }
		if err := json.Unmarshal(req.Params, &p); err != nil && len(req.Params) > 0 {
			return invalidParams(err)
		}
		if p.N <= 0 {
			p.N = defaultRecentEvents
		}
		events := s.backend.Events.Recent(p.N)
		out := make([]model.EventEnvelope, 0, len(events))
		for _, e := range events {
			out = append(out, model.Envelope(e))
		}
		return marshalResult(out, nil)

	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}
