package relayparse

import (
	"regexp"
	"strings"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// SeverityRegex matches the severity words ssh and the relays print.
var SeverityRegex = regexp.MustCompile(`(?i)\b(DEBUG\d?|INFO|NOTICE|WARN|WARNING|ERROR|FATAL|CRITICAL|DENIED|REFUSED)\b`)

// Severity guesses the level of an unrecognized relay line. Lines with no
// severity word are informational.
func Severity(line string) model.Level {
	m := SeverityRegex.FindStringSubmatch(line)
	if len(m) < 2 {
		return model.LevelInfo
	}
	word := strings.ToUpper(m[1])
	switch {
	case word == "WARN", word == "WARNING", word == "NOTICE":
		return model.LevelWarning
	case word == "ERROR", word == "FATAL", word == "CRITICAL", word == "DENIED", word == "REFUSED":
		return model.LevelError
	default:
		return model.LevelInfo
	}
}
