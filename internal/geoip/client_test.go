package geoip

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/tinytelemetry/tunnelscope/internal/identity"
	"github.com/tinytelemetry/tunnelscope/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Emit(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) logs() []model.LogMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.LogMessage
	for _, e := range r.events {
		if lm, ok := e.(model.LogMessage); ok {
			out = append(out, lm)
		}
	}
	return out
}

func (r *recorder) visitors() []model.VisitorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.VisitorRecord
	for _, e := range r.events {
		if vd, ok := e.(model.VisitorDetected); ok {
			out = append(out, vd.Record)
		}
	}
	return out
}

var testNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		Endpoint:   srv.URL + "/json/",
		Identities: identity.NewGenerator(rand.NewPCG(7, 7)),
		Clock:      testclock.NewClock(testNow),
	})
	return c, srv
}

func TestEnrichStatusError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := &recorder{}
	c.Enrich(context.Background(), "10.0.0.5", rec)

	if n := len(rec.visitors()); n != 0 {
		t.Fatalf("visitors = %d, want 0", n)
	}
	logs := rec.logs()
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].Level != model.LevelWarning {
		t.Errorf("level = %s, want warning", logs[0].Level)
	}
	if !strings.Contains(logs[0].Text, "500") {
		t.Errorf("text = %q, want status code", logs[0].Text)
	}
}

func TestEnrichInvalidBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json"))
	})

	rec := &recorder{}
	c.Enrich(context.Background(), "10.0.0.5", rec)

	logs := rec.logs()
	if len(rec.visitors()) != 0 || len(logs) != 1 {
		t.Fatalf("events = %+v", rec.events)
	}
	if logs[0].Level != model.LevelError || !strings.Contains(logs[0].Text, "Invalid response") {
		t.Errorf("log = %+v", logs[0])
	}
}

func TestEnrichProviderFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"private range","query":"10.0.0.5"}`))
	})

	rec := &recorder{}
	c.Enrich(context.Background(), "10.0.0.5", rec)

	logs := rec.logs()
	if len(rec.visitors()) != 0 || len(logs) != 1 {
		t.Fatalf("events = %+v", rec.events)
	}
	if logs[0].Level != model.LevelWarning || !strings.Contains(logs[0].Text, "private range") {
		t.Errorf("log = %+v", logs[0])
	}
}

func TestEnrichDefaultsForMissingFields(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"status":"success","country":"Norway"}`))
	})

	rec := &recorder{}
	c.Enrich(context.Background(), "203.0.113.9", rec)

	if gotPath != "/json/203.0.113.9" {
		t.Errorf("request path = %q", gotPath)
	}

	visitors := rec.visitors()
	if len(visitors) != 1 {
		t.Fatalf("visitors = %d, want 1", len(visitors))
	}
	v := visitors[0]
	if v.IP != "203.0.113.9" || v.Country != "Norway" {
		t.Errorf("ip/country = %q/%q", v.IP, v.Country)
	}
	for name, got := range map[string]string{
		"region": v.Region, "city": v.City, "zip": v.Zip,
		"timezone": v.Timezone, "isp": v.ISP, "as": v.AS,
	} {
		if got != model.UnknownValue {
			t.Errorf("%s = %q, want %q", name, got, model.UnknownValue)
		}
	}
	if v.CountryCode != "XX" {
		t.Errorf("countryCode = %q, want XX", v.CountryCode)
	}
	if v.Lat != 0 || v.Lon != 0 {
		t.Errorf("lat/lon = %v/%v, want 0/0", v.Lat, v.Lon)
	}
	if !v.Timestamp.Equal(testNow) {
		t.Errorf("timestamp = %v, want %v", v.Timestamp, testNow)
	}
	if v.UserAgent == "" || v.Platform == "" || v.Browser == "" || v.Referrer == "" {
		t.Errorf("synthetic identity not filled: %+v", v)
	}

	// VisitorDetected precedes the success log.
	if _, ok := rec.events[0].(model.VisitorDetected); !ok {
		t.Errorf("first event = %T, want VisitorDetected", rec.events[0])
	}
	if lm, ok := rec.events[1].(model.LogMessage); !ok || lm.Level != model.LevelSuccess {
		t.Errorf("second event = %+v, want success log", rec.events[1])
	}
}

func TestEnrichFullRecord(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","country":"Canada","countryCode":"CA","regionName":"Quebec",
			"city":"Montreal","zip":"H1K","lat":45.6085,"lon":-73.5493,"timezone":"America/Toronto",
			"isp":"Le Groupe Videotron Ltee","as":"AS5769 Videotron Ltee"}`))
	})

	rec, err := c.Lookup(context.Background(), "24.48.0.1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.CountryCode != "CA" || rec.Region != "Quebec" || rec.Lat != 45.6085 || rec.AS != "AS5769 Videotron Ltee" {
		t.Errorf("record = %+v", rec)
	}
}

func TestEnrichNetworkError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	rec := &recorder{}
	c.Enrich(context.Background(), "10.0.0.5", rec)

	logs := rec.logs()
	if len(rec.visitors()) != 0 || len(logs) != 1 {
		t.Fatalf("events = %+v", rec.events)
	}
	if logs[0].Level != model.LevelError || !strings.Contains(logs[0].Text, "Network error") {
		t.Errorf("log = %+v", logs[0])
	}
}

func TestEnrichTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(Config{Endpoint: srv.URL + "/", Timeout: 50 * time.Millisecond})

	rec := &recorder{}
	start := time.Now()
	c.Enrich(context.Background(), "10.0.0.5", rec)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("lookup took %v, timeout not applied", elapsed)
	}
	logs := rec.logs()
	if len(logs) != 1 || logs[0].Level != model.LevelError {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient()
	if c.endpoint != DefaultEndpoint {
		t.Errorf("endpoint = %q", c.endpoint)
	}
	if c.http.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v", c.http.Timeout)
	}
}
