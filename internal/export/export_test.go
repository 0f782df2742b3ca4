package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/model"
	"gopkg.in/yaml.v3"
)

func sampleVisitors() []model.VisitorRecord {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	return []model.VisitorRecord{
		{
			IP: "203.0.113.4", Timestamp: ts, Country: "Germany", CountryCode: "DE",
			Region: "BE", City: "Berlin", Zip: "10115", Lat: 52.52, Lon: 13.405,
			Timezone: "Europe/Berlin", ISP: "Example, Inc.", AS: "AS64500",
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64)", Platform: "Linux x86_64",
			Browser: "Firefox", Referrer: "https://www.google.com",
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"": FormatJSON, "JSON": FormatJSON, "csv": FormatCSV, "yml": FormatYAML}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ParseFormat(xml) err = %v", err)
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]Format{
		"out.csv":      FormatCSV,
		"out.json":     FormatJSON,
		"dir/out.yaml": FormatYAML,
		"out.txt":      FormatJSON,
		"no-extension": FormatJSON,
	}
	for path, want := range tests {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, sampleVisitors()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(Header, ",") {
		t.Fatalf("header = %v", rows[0])
	}
	r := rows[1]
	if r[0] != "203.0.113.4" || r[1] != "2025-01-02 03:04:05" || r[10] != "Example, Inc." || r[7] != "52.52" {
		t.Fatalf("row = %v", r)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, sampleVisitors()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0]["countryCode"] != "DE" || got[0]["as"] != "AS64500" {
		t.Fatalf("json = %v", got)
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatYAML, sampleVisitors()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var got []map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0]["city"] != "Berlin" {
		t.Fatalf("yaml = %v", got)
	}
}

func TestWriteEmptyJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("empty export = %q", buf.String())
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, Format("xml"), nil); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err = %v", err)
	}
}
