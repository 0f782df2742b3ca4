package duckdb

import (
	"log"
	"sync"
	"time"
)

// RetentionConfig configures the retention cleaner.
type RetentionConfig struct {
	// Retention is how long visitors are kept. Zero disables cleanup.
	Retention time.Duration
	// Interval between sweeps. Defaults to one hour.
	Interval time.Duration
}

// RetentionCleaner periodically deletes visitors older than the retention
// period.
type RetentionCleaner struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewRetentionCleaner starts a cleaner. It returns nil when retention is
// disabled.
func NewRetentionCleaner(store *Store, conf RetentionConfig) *RetentionCleaner {
	if conf.Retention <= 0 {
		return nil
	}
	if conf.Interval <= 0 {
		conf.Interval = time.Hour
	}

	rc := &RetentionCleaner{
		store:     store,
		retention: conf.Retention,
		interval:  conf.Interval,
		done:      make(chan struct{}),
	}

	// Catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()
	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := time.Now().Add(-rc.retention)
	rows, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		log.Printf("duckdb: retention cleanup error: %v", err)
		return
	}
	if rows > 0 {
		log.Printf("duckdb: retention cleanup deleted %d visitors older than %s", rows, rc.retention)
	}
}

// Stop signals the cleaner to stop and waits for it.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
