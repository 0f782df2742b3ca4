// Package geoip resolves visitor addresses to location data and assembles
// visitor records.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/tinytelemetry/tunnelscope/internal/identity"
	"github.com/tinytelemetry/tunnelscope/internal/model"
)

const (
	// DefaultEndpoint is the ip-api.com JSON lookup prefix; the address is appended.
	DefaultEndpoint = "http://ip-api.com/json/"

	// DefaultTimeout bounds one lookup.
	DefaultTimeout = 5 * time.Second

	maxBodySize = 1 << 20
)

// Config holds tunable parameters for the lookup client.
type Config struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Identities *identity.Generator
	Clock      clock.Clock
}

// Client performs one geolocation lookup per detected address. It never
// retries.
type Client struct {
	endpoint   string
	http       *http.Client
	identities *identity.Generator
	clock      clock.Clock
}

// lookupResponse mirrors the ip-api.com payload. Pointer fields distinguish
// an absent key from an empty value.
type lookupResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Country     *string  `json:"country"`
	CountryCode *string  `json:"countryCode"`
	RegionName  *string  `json:"regionName"`
	City        *string  `json:"city"`
	Zip         *string  `json:"zip"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Timezone    *string  `json:"timezone"`
	ISP         *string  `json:"isp"`
	AS          *string  `json:"as"`
}

// NewClient creates a lookup client.
func NewClient(conf ...Config) *Client {
	var cfg Config
	if len(conf) > 0 {
		cfg = conf[0]
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// Copy so the caller's client keeps its own timeout.
	hc := *httpClient
	hc.Timeout = cfg.Timeout

	if cfg.Identities == nil {
		cfg.Identities = identity.NewGenerator(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		http:       &hc,
		identities: cfg.Identities,
		clock:      cfg.Clock,
	}
}

// Enrich looks up ip and emits VisitorDetected on success. Every outcome is
// reported as LogMessage events; failures never propagate to the caller.
func (c *Client) Enrich(ctx context.Context, ip string, emit model.Emitter) {
	record, level, msg := c.lookup(ctx, ip)
	if record != nil {
		emit.Emit(model.VisitorDetected{Record: *record})
	}
	emit.Emit(model.LogMessage{Text: msg, Level: level, Time: c.clock.Now()})
}

// Lookup performs the request and returns the assembled record, or an error
// describing why none was produced.
func (c *Client) Lookup(ctx context.Context, ip string) (*model.VisitorRecord, error) {
	record, level, msg := c.lookup(ctx, ip)
	if record == nil {
		return nil, fmt.Errorf("geoip: %s: %s", level, msg)
	}
	return record, nil
}

func (c *Client) lookup(ctx context.Context, ip string) (*model.VisitorRecord, model.Level, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+url.PathEscape(ip), nil)
	if err != nil {
		return nil, model.LevelError, fmt.Sprintf("Network error retrieving IP data: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, model.LevelError, fmt.Sprintf("Network error retrieving IP data: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, model.LevelWarning, fmt.Sprintf("API error: status %d", resp.StatusCode)
	}

	var data lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&data); err != nil {
		return nil, model.LevelError, "Invalid response from IP API"
	}

	if data.Status != "success" {
		reason := data.Message
		if reason == "" {
			reason = "Unknown error"
		}
		return nil, model.LevelWarning, fmt.Sprintf("Failed to get location data for %s: %s", ip, reason)
	}

	record := c.buildRecord(ip, &data)
	return record, model.LevelSuccess, fmt.Sprintf("Visitor data collected for %s", ip)
}

func (c *Client) buildRecord(ip string, data *lookupResponse) *model.VisitorRecord {
	id := c.identities.RandomIdentity()
	return &model.VisitorRecord{
		IP:          ip,
		Timestamp:   c.clock.Now(),
		Country:     stringOr(data.Country, model.UnknownValue),
		CountryCode: stringOr(data.CountryCode, model.UnknownCountryCode),
		Region:      stringOr(data.RegionName, model.UnknownValue),
		City:        stringOr(data.City, model.UnknownValue),
		Zip:         stringOr(data.Zip, model.UnknownValue),
		Lat:         floatOr(data.Lat, 0),
		Lon:         floatOr(data.Lon, 0),
		Timezone:    stringOr(data.Timezone, model.UnknownValue),
		ISP:         stringOr(data.ISP, model.UnknownValue),
		AS:          stringOr(data.AS, model.UnknownValue),
		UserAgent:   id.UserAgent,
		Platform:    id.Platform,
		Browser:     id.Browser,
		Referrer:    id.Referrer,
	}
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
