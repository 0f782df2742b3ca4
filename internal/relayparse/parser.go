package relayparse

import (
	"regexp"
	"strings"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// ServeoURLRegex matches the public URL serveo.net prints once forwarding is up.
var ServeoURLRegex = regexp.MustCompile(`https://[a-z0-9]+\.serveo\.net`)

// LocalhostRunURLRegex matches the public URL assigned by localhost.run.
var LocalhostRunURLRegex = regexp.MustCompile(`https?://[a-z0-9\-]+\.lhr\.life`)

// IPv4Regex matches the first whole dotted-quad token in a line. Digits
// glued to either end of the quad do not match.
var IPv4Regex = regexp.MustCompile(`\b(\d{1,3}(?:\.\d{1,3}){3})\b`)

const (
	serveoMarker  = "Forwarding HTTP traffic from"
	lhrMarker     = "url"
	requestMarker = "request from"
)

// Result holds what a single relay output line revealed. Both fields may be
// set when one line carries a URL and an inbound address.
type Result struct {
	URL  string
	Addr string
}

// HasURL reports whether the line announced the public URL.
func (r Result) HasURL() bool { return r.URL != "" }

// HasAddr reports whether the line announced an inbound connection.
func (r Result) HasAddr() bool { return r.Addr != "" }

// Empty reports whether nothing was recognized.
func (r Result) Empty() bool { return r.URL == "" && r.Addr == "" }

// Classify inspects one line of relay output. URL detection depends on the
// provider; address detection does not.
func Classify(provider model.Provider, line string) Result {
	if line == "" {
		return Result{}
	}
	return Result{
		URL:  ExtractURL(provider, line),
		Addr: ExtractAddr(line),
	}
}

// ExtractURL returns the public URL announced on line, or "".
func ExtractURL(provider model.Provider, line string) string {
	switch provider {
	case model.ProviderServeo:
		if !strings.Contains(line, serveoMarker) {
			return ""
		}
		return ServeoURLRegex.FindString(line)
	case model.ProviderLocalhostRun:
		if !strings.Contains(strings.ToLower(line), lhrMarker) {
			return ""
		}
		return LocalhostRunURLRegex.FindString(line)
	default:
		return ""
	}
}

// ExtractAddr returns the remote IPv4 address of an inbound request line, or "".
func ExtractAddr(line string) string {
	if !strings.Contains(strings.ToLower(line), requestMarker) {
		return ""
	}
	m := IPv4Regex.FindStringSubmatch(line)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
