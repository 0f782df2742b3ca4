package duckdb

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// Insert buffer defaults.
const (
	DefaultBatchSize      = 200
	DefaultFlushInterval  = 250 * time.Millisecond
	DefaultFlushQueueSize = 64
)

type pendingVisitor struct {
	seq     uint64
	visitor *model.VisitorRecord
}

// VisitorJournal is the durable log an InsertBuffer writes through.
type VisitorJournal interface {
	Append(v *model.VisitorRecord) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// InsertBuffer batches visitors and flushes them to the store on a
// background goroutine. Add never blocks on database IO unless the flush
// queue is full.
type InsertBuffer struct {
	writer        model.VisitorWriter
	journal       VisitorJournal
	maxBatch      int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []pendingVisitor

	flushChan chan []pendingVisitor
	done      chan struct{}
	wg        sync.WaitGroup
	tickWg    sync.WaitGroup
	stopOnce  sync.Once

	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        VisitorJournal
}

// NewInsertBuffer creates a buffer flushing into writer.
func NewInsertBuffer(writer model.VisitorWriter, conf ...InsertBufferConfig) *InsertBuffer {
	var c InsertBufferConfig
	if len(conf) > 0 {
		c = conf[0]
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.FlushQueueSize <= 0 {
		c.FlushQueueSize = DefaultFlushQueueSize
	}

	b := &InsertBuffer{
		writer:        writer,
		journal:       c.Journal,
		maxBatch:      c.BatchSize,
		flushInterval: c.FlushInterval,
		pending:       make([]pendingVisitor, 0, c.BatchSize),
		flushChan:     make(chan []pendingVisitor, c.FlushQueueSize),
		done:          make(chan struct{}),
	}

	b.wg.Add(2)
	b.tickWg.Add(1)
	go b.flushWorker()
	go b.tickLoop()
	return b
}

// Add queues a visitor. With a journal configured the visitor is durable
// once Add returns.
func (b *InsertBuffer) Add(v *model.VisitorRecord) {
	if v == nil {
		return
	}

	var seq uint64
	if b.journal != nil {
		for {
			var err error
			seq, err = b.journal.Append(v)
			if err == nil {
				break
			}
			log.Printf("duckdb: journal append failed, retrying: %v", err)
			select {
			case <-b.done:
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, pendingVisitor{seq: seq, visitor: v})
	var batch []pendingVisitor
	if len(b.pending) >= b.maxBatch {
		batch = b.takePendingLocked()
	}
	b.mu.Unlock()

	if batch != nil {
		b.enqueue(batch, "overflow-inline")
	}
}

// Stop flushes everything pending, waits for the writes and closes the
// journal. It is safe to call more than once.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// The tick loop's final drain must land before flushChan closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				log.Printf("duckdb: journal close error: %v", err)
			}
		}
	})
}

func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb flush error: %v", err)
		}
	}
}

func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	batch := b.takePendingLocked()
	b.mu.Unlock()
	if batch != nil {
		b.enqueue(batch, "inline")
	}
}

func (b *InsertBuffer) takePendingLocked() []pendingVisitor {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]pendingVisitor, 0, b.maxBatch)
	return batch
}

// enqueue hands batch to the flush worker, flushing inline when the queue
// is full.
func (b *InsertBuffer) enqueue(batch []pendingVisitor, where string) {
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb flush error (%s): %v", where, err)
		}
	}
}

// logBackpressure logs at most once every 10 seconds.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("duckdb: backpressure, %d inline flushes (flush queue full)", count)
	}
}

func (b *InsertBuffer) flushBatch(batch []pendingVisitor) error {
	if len(batch) == 0 {
		return nil
	}

	visitors := make([]*model.VisitorRecord, len(batch))
	var maxSeq uint64
	for i, item := range batch {
		visitors[i] = item.visitor
		maxSeq = max(maxSeq, item.seq)
	}

	if err := b.writer.InsertVisitorBatch(visitors); err != nil {
		return err
	}
	if b.journal != nil && maxSeq > 0 {
		if err := b.journal.Commit(maxSeq); err != nil {
			return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
		}
	}
	return nil
}
