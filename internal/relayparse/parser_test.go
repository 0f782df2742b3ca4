package relayparse

import (
	"testing"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		provider model.Provider
		line     string
		wantURL  string
		wantAddr string
	}{
		{
			name:     "serveo forwarding line",
			provider: model.ProviderServeo,
			line:     "Forwarding HTTP traffic from https://abc123.serveo.net",
			wantURL:  "https://abc123.serveo.net",
		},
		{
			name:     "serveo line under localhost.run",
			provider: model.ProviderLocalhostRun,
			line:     "Forwarding HTTP traffic from https://abc123.serveo.net",
		},
		{
			name:     "serveo url without marker",
			provider: model.ProviderServeo,
			line:     "visit https://abc123.serveo.net",
		},
		{
			name:     "localhost.run url line",
			provider: model.ProviderLocalhostRun,
			line:     "f00d-12-34.lhr.life tunneled with tls termination, https://f00d-12-34.lhr.life URL ready",
			wantURL:  "https://f00d-12-34.lhr.life",
		},
		{
			name:     "localhost.run plain http url",
			provider: model.ProviderLocalhostRun,
			line:     "Your URL: http://my-app.lhr.life",
			wantURL:  "http://my-app.lhr.life",
		},
		{
			name:     "localhost.run without url keyword",
			provider: model.ProviderLocalhostRun,
			line:     "connected to https://my-app.lhr.life",
		},
		{
			name:     "request line serveo",
			provider: model.ProviderServeo,
			line:     "HTTP request from 10.0.0.5 to https://abc.serveo.net/",
			wantAddr: "10.0.0.5",
		},
		{
			name:     "request line localhost.run",
			provider: model.ProviderLocalhostRun,
			line:     "GET / request from 10.0.0.5",
			wantAddr: "10.0.0.5",
		},
		{
			name:     "request marker is case insensitive",
			provider: model.ProviderServeo,
			line:     "Request From 192.168.1.20:51234",
			wantAddr: "192.168.1.20",
		},
		{
			name:     "address without request marker",
			provider: model.ProviderServeo,
			line:     "connected to 10.0.0.5",
		},
		{
			name:     "first address wins",
			provider: model.ProviderServeo,
			line:     "request from 1.2.3.4 via 5.6.7.8",
			wantAddr: "1.2.3.4",
		},
		{
			name:     "oversized leading octet is not truncated",
			provider: model.ProviderServeo,
			line:     "request from 1234.5.6.7",
		},
		{
			name:     "oversized trailing octet is not truncated",
			provider: model.ProviderServeo,
			line:     "request from 10.0.0.5678",
		},
		{
			name:     "address followed by port",
			provider: model.ProviderServeo,
			line:     "request from 203.0.113.7:443",
			wantAddr: "203.0.113.7",
		},
		{
			name:     "url and address on one line",
			provider: model.ProviderServeo,
			line:     "Forwarding HTTP traffic from https://x1.serveo.net request from 8.8.8.8",
			wantURL:  "https://x1.serveo.net",
			wantAddr: "8.8.8.8",
		},
		{
			name:     "unknown provider still detects address",
			provider: model.Provider("ngrok"),
			line:     "request from 10.0.0.5",
			wantAddr: "10.0.0.5",
		},
		{
			name:     "empty line",
			provider: model.ProviderServeo,
			line:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.provider, tt.line)
			if got.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", got.URL, tt.wantURL)
			}
			if got.Addr != tt.wantAddr {
				t.Errorf("Addr = %q, want %q", got.Addr, tt.wantAddr)
			}
			if got.HasURL() != (tt.wantURL != "") || got.HasAddr() != (tt.wantAddr != "") {
				t.Errorf("Has* mismatch for %+v", got)
			}
		})
	}
}

func TestClassifyIsStateless(t *testing.T) {
	line := "Forwarding HTTP traffic from https://abc123.serveo.net"
	for i := 0; i < 3; i++ {
		if got := Classify(model.ProviderServeo, line); got.URL != "https://abc123.serveo.net" {
			t.Fatalf("call %d: URL = %q", i, got.URL)
		}
	}
}

func TestResultEmpty(t *testing.T) {
	if !(Result{}).Empty() {
		t.Error("zero Result should be empty")
	}
	if (Result{Addr: "1.2.3.4"}).Empty() {
		t.Error("Result with address should not be empty")
	}
}
