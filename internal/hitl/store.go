// Package hitl implements the human-in-the-loop approval gate for risk-flagged
// plan steps.
package hitl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Decision is one recorded approval or rejection for a (plan, step) pair.
// Decisions are read-only once written; expiry makes them effectively pending
// again without rewriting history.
type Decision struct {
	Approved   bool   `json:"approved"`
	ApprovedAt string `json:"approved_at,omitempty"`
	RejectedAt string `json:"rejected_at,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type approvalFile struct {
	Approvals map[string]map[string]Decision `json:"approvals"`
}

// Store persists approval decisions in a single structured file, guarded by one
// process-wide mutex. The file maps plan id to step id to decision.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Get returns the recorded decision for a (plan, step) pair, if any.
func (s *Store) Get(planID, stepID string) (Decision, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load()
	if err != nil {
		return Decision{}, false, err
	}
	d, ok := file.Approvals[planID][stepID]
	return d, ok, nil
}

// Put records a decision. An existing decision is only replaced, never merged.
func (s *Store) Put(planID, stepID string, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load()
	if err != nil {
		return err
	}
	if file.Approvals == nil {
		file.Approvals = map[string]map[string]Decision{}
	}
	if file.Approvals[planID] == nil {
		file.Approvals[planID] = map[string]Decision{}
	}
	file.Approvals[planID][stepID] = d
	return s.save(file)
}

func (s *Store) load() (approvalFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return approvalFile{Approvals: map[string]map[string]Decision{}}, nil
	}
	if err != nil {
		return approvalFile{}, fmt.Errorf("read approvals: %w", err)
	}
	var file approvalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return approvalFile{}, fmt.Errorf("parse approvals: %w", err)
	}
	if file.Approvals == nil {
		file.Approvals = map[string]map[string]Decision{}
	}
	return file, nil
}

func (s *Store) save(file approvalFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure approvals dir: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal approvals: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write approvals: %w", err)
	}
	return nil
}
