package model

import "strings"

// Provider names a third-party SSH tunnel relay.
type Provider string

const (
	ProviderServeo       Provider = "serveo"
	ProviderLocalhostRun Provider = "localhost.run"
)

// Providers lists every recognized relay in display order.
var Providers = []Provider{ProviderServeo, ProviderLocalhostRun}

// Valid reports whether p is a recognized relay.
func (p Provider) Valid() bool {
	switch p {
	case ProviderServeo, ProviderLocalhostRun:
		return true
	}
	return false
}

// ParseProvider maps user input ("Serveo", "localhostrun", "lhr") to a Provider.
// Unknown names are returned verbatim so the caller can report them.
func ParseProvider(s string) Provider {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "serveo", "serveo.net":
		return ProviderServeo
	case "localhost.run", "localhostrun", "localhost-run", "lhr":
		return ProviderLocalhostRun
	}
	return Provider(s)
}

// TunnelConfig configures one supervisor session. It is not modified once a
// session starts.
type TunnelConfig struct {
	Provider       Provider `json:"provider"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
}

// WithDefaults fills unset fields.
func (c TunnelConfig) WithDefaults() TunnelConfig {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return c
}

// SessionState is the lifecycle position of a tunnel session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateStarting   SessionState = "starting"
	StateConnected  SessionState = "connected"
	StateFailed     SessionState = "failed"
	StateTimedOut   SessionState = "timed_out"
	StateTerminated SessionState = "terminated"
)

// TunnelStatus is a point-in-time snapshot of the supervisor.
type TunnelStatus struct {
	State    SessionState `json:"state"`
	Provider Provider     `json:"provider,omitempty"`
	URL      string       `json:"url,omitempty"`
	PID      int          `json:"pid,omitempty"`
	Running  bool         `json:"running"`
}
