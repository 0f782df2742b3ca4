package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes visitor queries, tunnel control and the
// recent event history over a Unix domain socket.
//
//   Method           Params                                   Result
//   ───────────────  ───────────────────────────────────────  ─────────────────────
//   TotalVisitors    (none)                                   int64
//   RecentVisitors   {Filter: VisitorFilter}                  []VisitorRecord
//   ListCountries    (none)                                   []string
//   TopCountries     {Limit: int}                             []CountryCount
//   TunnelStatus     (none)                                   TunnelStatus
//   StartTunnel      {Provider: string, TimeoutSeconds: int}  TunnelStatus
//   StopTunnel       (none)                                   TunnelStatus
//   RecentEvents     {N: int}                                 []EventEnvelope
//
// RecentVisitors, TopCountries and RecentEvents accept empty or null params.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (query or tunnel failure)
//   -32001  Feature disabled on this server

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

const (
	codeParse          = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
	codeDisabled       = -32001
)

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/tunnelscope/tunnelscope.sock, falling back to
// ~/.local/state/tunnelscope/tunnelscope.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tunnelscope", "tunnelscope.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/tunnelscope.sock"
	}
	return filepath.Join(home, ".local", "state", "tunnelscope", "tunnelscope.sock")
}
