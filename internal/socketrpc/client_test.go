package socketrpc_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/duckdb"
	"github.com/tinytelemetry/tunnelscope/internal/eventbus"
	"github.com/tinytelemetry/tunnelscope/internal/model"
	"github.com/tinytelemetry/tunnelscope/internal/socketrpc"
)

// fakeTunnel is a minimal TunnelControl for roundtrip testing.
type fakeTunnel struct {
	status model.TunnelStatus
}

func (f *fakeTunnel) Start(_ context.Context, cfg model.TunnelConfig) error {
	f.status = model.TunnelStatus{State: model.StateStarting, Provider: cfg.Provider, Running: true}
	return nil
}
func (f *fakeTunnel) Stop()                      { f.status = model.TunnelStatus{State: model.StateTerminated} }
func (f *fakeTunnel) Status() model.TunnelStatus { return f.status }

func startTestServer(t *testing.T) (string, *socketrpc.Server, *eventbus.Bus) {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Now()
	err = store.InsertVisitorBatch([]*model.VisitorRecord{
		{IP: "192.0.2.1", Timestamp: now.Add(-time.Second), Country: "Kenya", CountryCode: "KE"},
		{IP: "192.0.2.2", Timestamp: now, Country: "Japan", CountryCode: "JP"},
		{IP: "192.0.2.3", Timestamp: now, Country: "Kenya", CountryCode: "KE"},
	})
	if err != nil {
		t.Fatalf("InsertVisitorBatch: %v", err)
	}

	bus := eventbus.New(10)
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	srv := socketrpc.NewServer(sockPath, socketrpc.Backend{
		Visitors: store,
		Tunnel:   &fakeTunnel{status: model.TunnelStatus{State: model.StateIdle}},
		Events:   bus,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return sockPath, srv, bus
}

func TestRoundtrip(t *testing.T) {
	sockPath, srv, bus := startTestServer(t)
	defer srv.Stop()

	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	t.Run("TotalVisitors", func(t *testing.T) {
		n, err := client.TotalVisitors()
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Fatalf("got %d, want 3", n)
		}
	})

	t.Run("RecentVisitors", func(t *testing.T) {
		visitors, err := client.RecentVisitors(model.VisitorFilter{Date: model.DateAll, Country: "Kenya"})
		if err != nil {
			t.Fatal(err)
		}
		if len(visitors) != 2 {
			t.Fatalf("got %d visitors, want 2", len(visitors))
		}
		for _, v := range visitors {
			if v.Country != "Kenya" {
				t.Errorf("unexpected country %q", v.Country)
			}
		}
	})

	t.Run("ListCountries", func(t *testing.T) {
		countries, err := client.ListCountries()
		if err != nil {
			t.Fatal(err)
		}
		if len(countries) != 2 || countries[0] != "Japan" {
			t.Fatalf("unexpected countries: %v", countries)
		}
	})

	t.Run("TopCountries", func(t *testing.T) {
		top, err := client.TopCountries(1)
		if err != nil {
			t.Fatal(err)
		}
		if len(top) != 1 || top[0].Country != "Kenya" || top[0].Count != 2 {
			t.Fatalf("unexpected top: %+v", top)
		}
	})

	t.Run("Tunnel", func(t *testing.T) {
		st, err := client.StartTunnel(model.ProviderServeo, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !st.Running || st.Provider != model.ProviderServeo {
			t.Fatalf("start status = %+v", st)
		}
		st, err = client.StopTunnel()
		if err != nil {
			t.Fatal(err)
		}
		if st.Running || st.State != model.StateTerminated {
			t.Fatalf("stop status = %+v", st)
		}
		st, err = client.TunnelStatus()
		if err != nil {
			t.Fatal(err)
		}
		if st.State != model.StateTerminated {
			t.Fatalf("status = %+v", st)
		}
	})

	t.Run("RecentEvents", func(t *testing.T) {
		bus.Emit(model.LogMessage{Text: "IP tracking service initialized", Level: model.LevelSuccess})
		bus.Emit(model.ConnectionError{Message: "Tunnel process terminated unexpectedly"})

		events, err := client.RecentEvents(10)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
		if _, ok := events[0].(model.LogMessage); !ok {
			t.Errorf("events[0] = %T, want LogMessage", events[0])
		}
		if ce, ok := events[1].(model.ConnectionError); !ok || ce.Message != "Tunnel process terminated unexpectedly" {
			t.Errorf("events[1] = %#v", events[1])
		}
	})
}

func TestDialFailure(t *testing.T) {
	_, err := socketrpc.Dial(filepath.Join(t.TempDir(), "nonexistent.sock"))
	if err == nil {
		t.Fatal("expected error dialing nonexistent socket")
	}
}

func TestSecondServerRefused(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	defer srv.Stop()

	other := socketrpc.NewServer(sockPath, socketrpc.Backend{})
	if err := other.Start(); err == nil {
		other.Stop()
		t.Fatal("expected second server on the same socket to fail")
	}
}

func TestServerStopCleansSocket(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	srv.Stop()

	if _, err := socketrpc.Dial(sockPath); err == nil {
		t.Fatal("expected dial to fail after server stop")
	}
}

func TestStopIdempotent(t *testing.T) {
	_, srv, _ := startTestServer(t)
	srv.Stop()
	srv.Stop()
}

func TestStopClosesConns(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	srv.Stop()

	done := make(chan error, 1)
	go func() {
		_, callErr := client.ListCountries()
		done <- callErr
	}()

	select {
	case callErr := <-done:
		if callErr == nil {
			t.Fatal("expected client call to fail after server stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client call hung after server stop")
	}
}
