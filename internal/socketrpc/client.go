package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// Client implements model.VisitorQuerier and tunnel control over a Unix
// domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

var _ model.VisitorQuerier = (*Client)(nil)

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d, want %d", resp.ID, id)
	}
	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) TotalVisitors() (int64, error) {
	var result int64
	err := c.call("TotalVisitors", nil, &result)
	return result, err
}

func (c *Client) RecentVisitors(filter model.VisitorFilter) ([]model.VisitorRecord, error) {
	var result []model.VisitorRecord
	err := c.call("RecentVisitors", map[string]any{"Filter": filter}, &result)
	return result, err
}

func (c *Client) ListCountries() ([]string, error) {
	var result []string
	err := c.call("ListCountries", nil, &result)
	return result, err
}

func (c *Client) TopCountries(limit int) ([]model.CountryCount, error) {
	var result []model.CountryCount
	err := c.call("TopCountries", map[string]any{"Limit": limit}, &result)
	return result, err
}

func (c *Client) TunnelStatus() (model.TunnelStatus, error) {
	var result model.TunnelStatus
	err := c.call("TunnelStatus", nil, &result)
	return result, err
}

// StartTunnel asks the service to open a session. A zero timeout uses the
// service default.
func (c *Client) StartTunnel(provider model.Provider, timeoutSeconds int) (model.TunnelStatus, error) {
	var result model.TunnelStatus
	err := c.call("StartTunnel", map[string]any{
		"Provider":       provider,
		"TimeoutSeconds": timeoutSeconds,
	}, &result)
	return result, err
}

func (c *Client) StopTunnel() (model.TunnelStatus, error) {
	var result model.TunnelStatus
	err := c.call("StopTunnel", nil, &result)
	return result, err
}

// RecentEvents returns up to n recent events, oldest first. Envelopes of an
// unknown type are skipped.
func (c *Client) RecentEvents(n int) ([]model.Event, error) {
	var raw []model.RawEnvelope
	if err := c.call("RecentEvents", map[string]any{"N": n}, &raw); err != nil {
		return nil, err
	}
	events := make([]model.Event, 0, len(raw))
	for _, r := range raw {
		e, err := r.Decode()
		if err != nil {
			log.Printf("socketrpc: skip event: %v", err)
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
