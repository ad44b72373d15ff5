// Package store keeps run records for the HTTP API. It is single-process
// state: records live for the life of the server and are not shared across
// runs of the binary.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harvesterlabs/threadharvest/internal/harvest"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the API-visible lifecycle of a submitted run.
type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
)

// RunRecord is one submitted run and, once finished, its artifact.
type RunRecord struct {
	ID          string
	Query       string
	Status      RunStatus
	Submitted   time.Time
	Finished    *time.Time
	Artifact    *harvest.FinalArtifact
	Rendered    string
	ArtifactURI string
	ErrorText   string
}

// RunStore provides an in-memory run registry.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]RunRecord)}
}

// CreateRun stores a new run in pending status.
func (s *RunStore) CreateRun(_ context.Context, record RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[record.ID]; exists {
		return errors.New("run already exists")
	}
	if record.Status == "" {
		record.Status = RunStatusPending
	}
	s.runs[record.ID] = record
	return nil
}

// MarkRunning flips a run to running.
func (s *RunStore) MarkRunning(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	record.Status = RunStatusRunning
	s.runs[runID] = record
	return nil
}

// FinishRun records the outcome of a completed run.
func (s *RunStore) FinishRun(
	_ context.Context,
	runID string,
	artifact harvest.FinalArtifact,
	rendered, artifactURI string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	record.Status = RunStatusFinished
	record.Artifact = &artifact
	record.Rendered = rendered
	record.ArtifactURI = artifactURI
	record.Finished = pointerTime(time.Now().UTC())
	s.runs[runID] = record
	return nil
}

// FailRun records a run that never produced an artifact.
func (s *RunStore) FailRun(_ context.Context, runID, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	record.Status = RunStatusFailed
	record.ErrorText = errText
	record.Finished = pointerTime(time.Now().UTC())
	s.runs[runID] = record
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, ErrRunNotFound
	}
	return record, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
