package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level is the severity attached to a LogMessage event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel normalizes level spellings to a Level. Unknown input maps to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "ok", "done":
		return LevelSuccess
	case "warning", "warn", "wrn":
		return LevelWarning
	case "error", "err", "erro", "fatal", "critical":
		return LevelError
	default:
		return LevelInfo
	}
}

// EventKind discriminates the Event variants.
type EventKind string

const (
	KindLogMessage      EventKind = "log"
	KindURLReady        EventKind = "url_ready"
	KindVisitorDetected EventKind = "visitor"
	KindConnectionError EventKind = "connection_error"
)

// Event is one immutable notification published by the tunnel worker.
// The concrete types are LogMessage, URLReady, VisitorDetected and
// ConnectionError.
type Event interface {
	Kind() EventKind
}

// LogMessage is a human readable activity line.
type LogMessage struct {
	Text  string    `json:"text"`
	Level Level     `json:"level"`
	Time  time.Time `json:"time"`
}

// URLReady carries the public URL assigned by the relay.
type URLReady struct {
	URL string `json:"url"`
}

// VisitorDetected carries one enriched visitor.
type VisitorDetected struct {
	Record VisitorRecord `json:"record"`
}

// ConnectionError reports a session-fatal tunnel failure.
type ConnectionError struct {
	Message string `json:"message"`
}

func (LogMessage) Kind() EventKind      { return KindLogMessage }
func (URLReady) Kind() EventKind        { return KindURLReady }
func (VisitorDetected) Kind() EventKind { return KindVisitorDetected }
func (ConnectionError) Kind() EventKind { return KindConnectionError }

// Emitter is the boundary the worker publishes through.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// EventEnvelope is the wire shape of an Event for JSON transports.
type EventEnvelope struct {
	Type    EventKind `json:"type"`
	Payload Event     `json:"payload"`
}

// Envelope wraps e for serialization.
func Envelope(e Event) EventEnvelope {
	return EventEnvelope{Type: e.Kind(), Payload: e}
}

// RawEnvelope is an EventEnvelope whose payload has not been decoded yet.
type RawEnvelope struct {
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode returns the concrete Event carried by the envelope.
func (r RawEnvelope) Decode() (Event, error) {
	var (
		e   Event
		err error
	)
	switch r.Type {
	case KindLogMessage:
		var v LogMessage
		err = json.Unmarshal(r.Payload, &v)
		e = v
	case KindURLReady:
		var v URLReady
		err = json.Unmarshal(r.Payload, &v)
		e = v
	case KindVisitorDetected:
		var v VisitorDetected
		err = json.Unmarshal(r.Payload, &v)
		e = v
	case KindConnectionError:
		var v ConnectionError
		err = json.Unmarshal(r.Payload, &v)
		e = v
	default:
		return nil, fmt.Errorf("model: unknown event type %q", r.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("model: decode %s event: %w", r.Type, err)
	}
	return e, nil
}
