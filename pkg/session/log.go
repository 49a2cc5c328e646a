// Package session persists per-job event histories as append-only JSONL.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mirrorlake/steward/pkg/schema"
)

// Log stores one JSONL file per job under a base directory. Appends are
// serialized per log instance; reads skip malformed lines so a torn write
// never makes a history unreadable.
type Log struct {
	dir string
	mu  sync.Mutex
}

// NewLog creates the session directory if needed.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	return &Log{dir: dir}, nil
}

func (l *Log) path(jobID string) string {
	return filepath.Join(l.dir, jobID+".jsonl")
}

// AppendEvent writes one event to the job's log.
func (l *Log) AppendEvent(jobID string, ev schema.AgentEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// History returns the job's events in append order. A missing file is an
// empty history; malformed lines are skipped.
func (l *Log) History(jobID string) ([]schema.AgentEvent, error) {
	f, err := os.Open(l.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	var events []schema.AgentEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev schema.AgentEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read session log: %w", err)
	}
	return events, nil
}
