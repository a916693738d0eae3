package ui

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// StatusTracker counts what each pipeline collected during a run
type StatusTracker struct {
	mu        sync.Mutex
	collected map[string]int64
	lastID    int64
	StartTime time.Time
}

// NewStatusTracker creates a new status tracker
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		collected: make(map[string]int64),
		StartTime: time.Now(),
	}
}

// Record sets the number of records a pipeline collected
func (st *StatusTracker) Record(pipeline string, n int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.collected[pipeline] = n
}

// SetLastID records the backfill checkpoint to print in the summary
func (st *StatusTracker) SetLastID(id int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastID = id
}

// Total returns the number of records collected by all pipelines
func (st *StatusTracker) Total() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()

	var total int64
	for _, n := range st.collected {
		total += n
	}
	return total
}

// GetElapsedTime returns the elapsed time since tracking started
func (st *StatusTracker) GetElapsedTime() time.Duration {
	return time.Since(st.StartTime)
}

// GetRate returns the average collection rate in records per minute
func (st *StatusTracker) GetRate() float64 {
	elapsed := st.GetElapsedTime().Minutes()
	if elapsed == 0 {
		return 0
	}
	return float64(st.Total()) / elapsed
}

// PrintSummary prints one line per pipeline and the resume point
func (st *StatusTracker) PrintSummary() {
	st.mu.Lock()
	names := make([]string, 0, len(st.collected))
	for name := range st.collected {
		names = append(names, name)
	}
	sort.Strings(names)
	counts := make([]int64, len(names))
	for i, name := range names {
		counts[i] = st.collected[name]
	}
	lastID := st.lastID
	st.mu.Unlock()

	fmt.Fprintln(Output)
	for i, name := range names {
		fmt.Fprintf(Output, "%s %s: %d\n", Green("[COLLECTED]"), name, counts[i])
	}
	if lastID > 0 {
		fmt.Fprintf(Output, "%s resume with --last-id %d\n", Magenta("[CHECKPOINT]"), lastID)
	}
	fmt.Fprintf(Output, "%s %s (%.1f/min)\n", Dim("[ELAPSED]"),
		st.GetElapsedTime().Round(time.Second), st.GetRate())
}
