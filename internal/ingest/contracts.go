// Package ingest turns tunnel events into durable state: visitors go to the
// store and activity lines go to the runtime log.
package ingest

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

const (
	// ProcessorModeStore persists visitors and logs activity.
	ProcessorModeStore = "store"
	// ProcessorModeLogOnly logs activity and discards visitors.
	ProcessorModeLogOnly = "log-only"
)

// VisitorSink receives enriched visitors for persistence.
type VisitorSink interface {
	Add(v *model.VisitorRecord)
}

// EventProcessor consumes tunnel events one at a time.
type EventProcessor interface {
	Name() string
	ProcessEvent(e model.Event)
	Stats() Stats
}

// Stats counts processed events by kind.
type Stats struct {
	Logs             int64 `json:"logs"`
	URLs             int64 `json:"urls"`
	Visitors         int64 `json:"visitors"`
	ConnectionErrors int64 `json:"connectionErrors"`
}

// NewEventProcessor creates the processor for mode. An empty mode selects
// ProcessorModeStore.
func NewEventProcessor(mode string, sink VisitorSink) (EventProcessor, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ProcessorModeStore:
		return NewProcessor(sink), nil
	case ProcessorModeLogOnly:
		return NewProcessor(nil), nil
	default:
		return nil, fmt.Errorf("ingest: unknown processor mode %q", mode)
	}
}
