package queue

import (
	"fmt"
	"sync"
	"time"
)

// failureRecord is one timestamped failure observation
type failureRecord struct {
	createdAt time.Time
	message   string
}

// FailureTracker is a bounded, time-windowed record of recent download
// failures. The number of live records is the extra-wait multiplier, so
// callers compute wait = base + base*Multiplier() before the next attempt.
// Successes remove the oldest record and records age out after maxAge,
// so the multiplier decays on its own.
type FailureTracker struct {
	mu      sync.Mutex
	records []failureRecord
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// NewFailureTracker creates a tracker bounded at maxSize records, each
// evicted once older than maxAge
func NewFailureTracker(maxSize int, maxAge time.Duration) *FailureTracker {
	return &FailureTracker{
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// RecordFailure appends a failure record, dropping the oldest when full
func (f *FailureTracker) RecordFailure(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evictOld()
	if len(f.records) >= f.maxSize {
		f.records = f.records[1:]
	}
	f.records = append(f.records, failureRecord{createdAt: f.now(), message: message})
}

// RecordSuccess removes the oldest failure record, if any
func (f *FailureTracker) RecordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evictOld()
	if len(f.records) > 0 {
		f.records = f.records[1:]
	}
}

// Multiplier returns the current count of live failure records
func (f *FailureTracker) Multiplier() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evictOld()
	return len(f.records)
}

// StatusSummary returns a short description of tracker state for logging
func (f *FailureTracker) StatusSummary() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evictOld()
	if len(f.records) == 0 {
		return "0 failures in queue"
	}
	age := f.now().Sub(f.records[0].createdAt)
	seconds := int(age.Seconds())
	var ageStr string
	if seconds >= 60 {
		ageStr = fmt.Sprintf("%dm %ds ago", seconds/60, seconds%60)
	} else {
		ageStr = fmt.Sprintf("%ds ago", seconds)
	}
	return fmt.Sprintf("%d failures in queue, oldest: %s", len(f.records), ageStr)
}

// evictOld drops records older than maxAge. Caller must hold the lock.
func (f *FailureTracker) evictOld() {
	if f.maxAge <= 0 {
		return
	}
	cutoff := f.now().Add(-f.maxAge)
	idx := 0
	for idx < len(f.records) && !f.records[idx].createdAt.After(cutoff) {
		idx++
	}
	f.records = f.records[idx:]
}
