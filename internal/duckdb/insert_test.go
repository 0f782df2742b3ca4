package duckdb

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/journal"
	"github.com/tinytelemetry/tunnelscope/internal/model"
)

func TestInsertBuffer_AddAndStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	for i := 0; i < 10; i++ {
		buf.Add(testVisitor(fmt.Sprintf("10.0.0.%d", i), "Peru", time.Now()))
	}
	buf.Stop()

	count, err := store.TotalVisitors()
	if err != nil {
		t.Fatalf("TotalVisitors: %v", err)
	}
	if count != 10 {
		t.Errorf("after Stop, TotalVisitors = %d, want 10", count)
	}
}

func TestInsertBuffer_BatchThreshold(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 5, FlushInterval: time.Hour})

	for i := 0; i < 12; i++ {
		buf.Add(testVisitor(fmt.Sprintf("10.0.1.%d", i), "Peru", time.Now()))
	}
	buf.Stop()

	count, err := store.TotalVisitors()
	if err != nil {
		t.Fatalf("TotalVisitors: %v", err)
	}
	if count != 12 {
		t.Errorf("TotalVisitors = %d, want 12", count)
	}
}

func TestInsertBuffer_ConcurrentAdd(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	var wg sync.WaitGroup
	const workers, perWorker = 8, 25
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				buf.Add(testVisitor(fmt.Sprintf("10.%d.0.%d", w, i), "Peru", time.Now()))
			}
		}(w)
	}
	wg.Wait()
	buf.Stop()

	count, err := store.TotalVisitors()
	if err != nil {
		t.Fatalf("TotalVisitors: %v", err)
	}
	if count != workers*perWorker {
		t.Errorf("TotalVisitors = %d, want %d", count, workers*perWorker)
	}
}

func TestInsertBuffer_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)
	buf.Add(testVisitor("10.0.0.1", "Peru", time.Now()))

	buf.Stop()
	buf.Stop()

	count, err := store.TotalVisitors()
	if err != nil {
		t.Fatalf("TotalVisitors: %v", err)
	}
	if count != 1 {
		t.Errorf("after double Stop, TotalVisitors = %d, want 1", count)
	}
}

func TestInsertBuffer_CommitsJournal(t *testing.T) {
	store := newTestStore(t)
	j, err := journal.Open(filepath.Join(t.TempDir(), "visitors.journal"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}

	buf := NewInsertBuffer(store, InsertBufferConfig{Journal: j})
	buf.Add(testVisitor("10.0.0.1", "Peru", time.Now()))
	buf.Add(testVisitor("10.0.0.2", "Peru", time.Now()))
	buf.Stop()

	if got := j.Committed(); got != 2 {
		t.Fatalf("Committed = %d, want 2", got)
	}
}

type failingWriter struct{ calls int }

func (w *failingWriter) InsertVisitorBatch([]*model.VisitorRecord) error {
	w.calls++
	return errors.New("disk full")
}

type memJournal struct {
	mu        sync.Mutex
	seq       uint64
	committed uint64
}

func (m *memJournal) Append(*model.VisitorRecord) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *memJournal) Commit(seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = seq
	return nil
}

func (m *memJournal) Close() error { return nil }

func TestInsertBuffer_FailedFlushLeavesJournalUncommitted(t *testing.T) {
	w := &failingWriter{}
	j := &memJournal{}
	buf := NewInsertBuffer(w, InsertBufferConfig{Journal: j})
	buf.Add(testVisitor("10.0.0.1", "Peru", time.Now()))
	buf.Stop()

	if w.calls == 0 {
		t.Fatal("writer was never called")
	}
	if j.committed != 0 {
		t.Fatalf("committed = %d, want 0", j.committed)
	}
}
