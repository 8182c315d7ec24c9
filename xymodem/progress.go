package xymodem

import (
	"sync"
	"time"
)

// ProgressTracker throttles progress reports for one file at a time.
type ProgressTracker struct {
	mu sync.Mutex

	filename    string
	transferred int64
	total       int64
	started     time.Time
	lastReport  time.Time
	lastBytes   int64

	callback func(string, int64, int64, float64)
	interval time.Duration
}

// NewProgressTracker creates a tracker that reports at most once per interval.
func NewProgressTracker(callback func(string, int64, int64, float64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ProgressTracker{callback: callback, interval: interval}
}

// Start resets the tracker for a new file.
func (pt *ProgressTracker) Start(filename string, total int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.filename = filename
	pt.total = total
	pt.transferred = 0
	pt.started = time.Now()
	pt.lastReport = pt.started
	pt.lastBytes = 0
}

// Update records the byte count and reports if the interval has passed.
func (pt *ProgressTracker) Update(transferred int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.transferred = transferred

	now := time.Now()
	elapsed := now.Sub(pt.lastReport)
	if elapsed < pt.interval {
		return
	}

	rate := float64(transferred-pt.lastBytes) / elapsed.Seconds()
	if pt.callback != nil {
		pt.callback(pt.filename, transferred, pt.total, rate)
	}
	pt.lastReport = now
	pt.lastBytes = transferred
}

// Complete sends a final report and returns the time spent on the file.
func (pt *ProgressTracker) Complete() time.Duration {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.callback != nil {
		pt.callback(pt.filename, pt.transferred, pt.total, 0)
	}
	return time.Since(pt.started)
}

// Transferred returns the last recorded byte count.
func (pt *ProgressTracker) Transferred() int64 {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.transferred
}
