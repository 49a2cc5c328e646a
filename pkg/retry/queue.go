// Package retry keeps a durable store of tasks awaiting a scheduled
// re-attempt.
package retry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mirrorlake/steward/pkg/schema"
)

// ErrMaxRetriesExceeded signals that a task has used up its retry budget.
// The caller must treat the task as permanently failed; the entry has
// already been removed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// DefaultMaxRetries bounds re-attempts when the caller passes no limit.
const DefaultMaxRetries = 3

// backoffUnit is the quadratic backoff base: delay = retryCount² × unit.
const backoffUnit = time.Minute

// Entry is one task awaiting retry, keyed by job ID.
type Entry struct {
	Task       schema.TaskContext `json:"task"`
	RetryCount int                `json:"retry_count"`
	LastError  string             `json:"last_error,omitempty"`
	NextRunAt  time.Time          `json:"next_run_at"`
}

// Delay returns the backoff before the given attempt: 1 min, 4 min, 9 min, …
// Pure so it can be tested in isolation from I/O.
func Delay(retryCount int) time.Duration {
	return time.Duration(retryCount*retryCount) * backoffUnit
}

// Queue is a file-backed retry store. Every mutation rewrites the full state
// atomically (write to a temp file, then rename), so a crash mid-write never
// corrupts the durable file.
type Queue struct {
	path string

	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Open loads the queue from disk. A missing file is an empty queue; a file
// that fails to parse is treated as empty rather than blocking startup.
func Open(path string, opts ...Option) (*Queue, error) {
	q := &Queue{
		path:    path,
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return nil, fmt.Errorf("failed to read retry state: %w", err)
	}

	var loaded []Entry
	if err := json.Unmarshal(data, &loaded); err != nil {
		// Corrupted state never blocks startup.
		return q, nil
	}
	for i := range loaded {
		entry := loaded[i]
		q.entries[entry.Task.JobID] = &entry
	}
	return q, nil
}

// Enqueue schedules a task for retry. Re-enqueuing the same job increments
// its retry count and replaces its entry; exceeding maxRetries removes the
// entry, persists, and fails with ErrMaxRetriesExceeded.
func (q *Queue) Enqueue(task schema.TaskContext, cause error, maxRetries int) (*Entry, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	count := 1
	if existing, ok := q.entries[task.JobID]; ok {
		count = existing.RetryCount + 1
	}
	if count > maxRetries {
		delete(q.entries, task.JobID)
		if err := q.persistLocked(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("job %s: %w", task.JobID, ErrMaxRetriesExceeded)
	}

	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	entry := &Entry{
		Task:       task,
		RetryCount: count,
		LastError:  lastError,
		NextRunAt:  q.now().Add(Delay(count)),
	}
	q.entries[task.JobID] = entry

	if err := q.persistLocked(); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReadyTasks returns every task whose retry time has arrived. It does not
// mutate the queue; callers remove entries after a successful re-run.
func (q *Queue) ReadyTasks() []schema.TaskContext {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var ready []schema.TaskContext
	for _, entry := range q.entries {
		if !entry.NextRunAt.After(now) {
			ready = append(ready, entry.Task)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].JobID < ready[j].JobID
	})
	return ready
}

// Remove drops a job's entry and persists.
func (q *Queue) Remove(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[jobID]; !ok {
		return nil
	}
	delete(q.entries, jobID)
	return q.persistLocked()
}

// Size returns the number of queued entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a snapshot of all entries sorted by next run time.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.entries))
	for _, entry := range q.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRunAt.Before(out[j].NextRunAt)
	})
	return out
}

func (q *Queue) persistLocked() error {
	entries := make([]Entry, 0, len(q.entries))
	for _, entry := range q.entries {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Task.JobID < entries[j].Task.JobID
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode retry state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return fmt.Errorf("failed to create retry state dir: %w", err)
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write retry state: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		return fmt.Errorf("failed to replace retry state: %w", err)
	}
	return nil
}
