// Package export writes visitor lists as JSON, CSV or YAML.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tinytelemetry/tunnelscope/internal/model"
	"gopkg.in/yaml.v3"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// TimestampLayout is how CSV rows render visitor timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrUnknownFormat is returned for an unsupported format name.
var ErrUnknownFormat = errors.New("export: unknown format")

// Header is the fixed CSV column order.
var Header = []string{
	"ip", "timestamp", "country", "countryCode", "region", "city",
	"zip", "lat", "lon", "timezone", "isp", "as", "userAgent",
	"platform", "browser", "referrer",
}

// ParseFormat accepts a format name. Empty input selects JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatForPath picks a format from a file extension, falling back to JSON
// for anything unrecognized.
func FormatForPath(path string) Format {
	f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return FormatJSON
	}
	return f
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatYAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}

// Write encodes visitors to w in format f.
func Write(w io.Writer, f Format, visitors []model.VisitorRecord) error {
	if visitors == nil {
		visitors = []model.VisitorRecord{}
	}
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(visitors)
	case FormatCSV:
		return writeCSV(w, visitors)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(visitors); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

func writeCSV(w io.Writer, visitors []model.VisitorRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, v := range visitors {
		if err := cw.Write(row(v)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(v model.VisitorRecord) []string {
	return []string{
		v.IP,
		v.Timestamp.Local().Format(TimestampLayout),
		v.Country,
		v.CountryCode,
		v.Region,
		v.City,
		v.Zip,
		strconv.FormatFloat(v.Lat, 'f', -1, 64),
		strconv.FormatFloat(v.Lon, 'f', -1, 64),
		v.Timezone,
		v.ISP,
		v.AS,
		v.UserAgent,
		v.Platform,
		v.Browser,
		v.Referrer,
	}
}
