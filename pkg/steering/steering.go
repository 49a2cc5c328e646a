// Package steering delivers asynchronously injected human messages to
// running jobs.
package steering

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mirrorlake/steward/pkg/schema"
)

// Source is where the execution loop polls for steering messages.
type Source interface {
	// PendingMessages returns unarchived messages for a job in arrival order.
	PendingMessages(jobID string) ([]schema.Message, error)

	// ArchiveMessage acknowledges a delivered message so it is never
	// returned again.
	ArchiveMessage(jobID, id string) error
}

// FileSource keeps one inbox directory per job; archiving moves the message
// file aside rather than deleting it, so the trail stays inspectable.
type FileSource struct {
	dir string
	mu  sync.Mutex
}

// NewFileSource creates the inbox root if needed.
func NewFileSource(dir string) (*FileSource, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create steering dir: %w", err)
	}
	return &FileSource{dir: dir}, nil
}

// Post drops a steer message into a job's inbox.
func (s *FileSource) Post(jobID, content string) (schema.Message, error) {
	msg := schema.Message{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Kind:      schema.MessageKindSteer,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inbox := filepath.Join(s.dir, jobID)
	if err := os.MkdirAll(inbox, 0755); err != nil {
		return schema.Message{}, fmt.Errorf("failed to create inbox: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return schema.Message{}, err
	}
	path := filepath.Join(inbox, msg.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return schema.Message{}, fmt.Errorf("failed to write message: %w", err)
	}
	return msg, nil
}

// PendingMessages lists a job's inbox, oldest first. Unreadable or malformed
// files are skipped.
func (s *FileSource) PendingMessages(jobID string) ([]schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox := filepath.Join(s.dir, jobID)
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var messages []schema.Message
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(inbox, entry.Name()))
		if err != nil {
			continue
		}
		var msg schema.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// ArchiveMessage moves the message file into the job's archived/ directory.
func (s *FileSource) ArchiveMessage(jobID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox := filepath.Join(s.dir, jobID)
	archived := filepath.Join(inbox, "archived")
	if err := os.MkdirAll(archived, 0755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}

	src := filepath.Join(inbox, id+".json")
	dst := filepath.Join(archived, id+".json")
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to archive message: %w", err)
	}
	return nil
}

// MemorySource is an in-process source for tests and embedded callers.
type MemorySource struct {
	mu       sync.Mutex
	pending  map[string][]schema.Message
	archived map[string][]schema.Message
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		pending:  make(map[string][]schema.Message),
		archived: make(map[string][]schema.Message),
	}
}

// Post queues a steer message for a job.
func (s *MemorySource) Post(jobID, content string) schema.Message {
	msg := schema.Message{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Kind:      schema.MessageKindSteer,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[jobID] = append(s.pending[jobID], msg)
	return msg
}

// PendingMessages returns queued messages in arrival order.
func (s *MemorySource) PendingMessages(jobID string) ([]schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Message(nil), s.pending[jobID]...), nil
}

// ArchiveMessage drops a message from the pending set.
func (s *MemorySource) ArchiveMessage(jobID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pending[jobID][:0]
	for _, msg := range s.pending[jobID] {
		if msg.ID == id {
			s.archived[jobID] = append(s.archived[jobID], msg)
			continue
		}
		kept = append(kept, msg)
	}
	s.pending[jobID] = kept
	return nil
}

// Archived returns the acknowledged messages for a job.
func (s *MemorySource) Archived(jobID string) []schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Message(nil), s.archived[jobID]...)
}
