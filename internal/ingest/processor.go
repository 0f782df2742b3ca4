package ingest

import (
	"context"
	"log"
	"strings"
	"sync/atomic"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// Processor writes visitors to its sink and mirrors every event to the
// runtime log.
type Processor struct {
	sink VisitorSink

	logs     atomic.Int64
	urls     atomic.Int64
	visitors atomic.Int64
	errors   atomic.Int64
}

// NewProcessor creates a processor. A nil sink only logs.
func NewProcessor(sink VisitorSink) *Processor {
	return &Processor{sink: sink}
}

// Name returns the processor mode, ProcessorModeStore or ProcessorModeLogOnly.
func (p *Processor) Name() string {
	if p.sink == nil {
		return ProcessorModeLogOnly
	}
	return ProcessorModeStore
}

// ProcessEvent handles one event.
func (p *Processor) ProcessEvent(e model.Event) {
	switch ev := e.(type) {
	case model.LogMessage:
		p.logs.Add(1)
		log.Printf("[%s] %s", strings.ToUpper(string(ev.Level)), ev.Text)
	case model.URLReady:
		p.urls.Add(1)
		log.Printf("tunnel: public url %s", ev.URL)
	case model.VisitorDetected:
		p.visitors.Add(1)
		if p.sink != nil {
			rec := ev.Record
			p.sink.Add(&rec)
		}
	case model.ConnectionError:
		p.errors.Add(1)
		log.Printf("tunnel: connection error: %s", ev.Message)
	}
}

// Stats returns counts of processed events.
func (p *Processor) Stats() Stats {
	return Stats{
		Logs:             p.logs.Load(),
		URLs:             p.urls.Load(),
		Visitors:         p.visitors.Load(),
		ConnectionErrors: p.errors.Load(),
	}
}

// Run processes events from ch until it is closed or ctx is done.
func Run(ctx context.Context, p EventProcessor, ch <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.ProcessEvent(e)
		}
	}
}
