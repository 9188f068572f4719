package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// StatusFileName is the name of the per-source status file
	StatusFileName = "status.json"
)

// FetchState is the terminal state of one fetch attempt sequence
type FetchState string

const (
	// FetchStateSuccess means the last fetch attempt sequence succeeded
	FetchStateSuccess FetchState = "success"

	// FetchStateError means the last fetch attempt sequence failed
	FetchStateError FetchState = "error"
)

// FetchStatus is the status notification pushed after each fetch attempt sequence
type FetchStatus struct {
	// SourceID identifies the source the status applies to
	SourceID string `json:"source_id"`

	// State is the terminal state of the attempt sequence
	State FetchState `json:"state"`

	// Timestamp is when the attempt sequence completed
	Timestamp time.Time `json:"timestamp"`

	// ResponseTime is the elapsed wall time of the attempt sequence
	ResponseTime time.Duration `json:"response_time_ns"`

	// LastError describes the terminal failure, empty on success
	LastError string `json:"last_error,omitempty"`
}

// Store provides the pipeline's view of configuration state: the ordered
// enabled descriptor list, and a sink for per-source status notifications.
//
// RecordFetchStatus is a notification, not a blocking dependency; callers
// log persistence errors rather than propagating them into fetch outcomes.
type Store interface {
	// EnabledSources returns the enabled descriptors in aggregation order
	EnabledSources(ctx context.Context) []SourceDescriptor

	// RecordFetchStatus records the outcome of a fetch attempt sequence
	RecordFetchStatus(ctx context.Context, status FetchStatus) error

	// Statuses returns the last recorded status per source id
	Statuses(ctx context.Context) map[string]FetchStatus
}

// FileStore implements Store over a loaded Config, persisting per-source
// status as JSON files under a base directory.
type FileStore struct {
	cfg      *Config
	basePath string

	mu       sync.RWMutex
	statuses map[string]FetchStatus
}

// NewFileStore creates a Store backed by the given config, persisting
// status files under basePath.
func NewFileStore(cfg *Config, basePath string) *FileStore {
	return &FileStore{
		cfg:      cfg,
		basePath: basePath,
		statuses: make(map[string]FetchStatus),
	}
}

// EnabledSources returns the enabled descriptors in aggregation order
func (f *FileStore) EnabledSources(_ context.Context) []SourceDescriptor {
	return f.cfg.EnabledSources()
}

// RecordFetchStatus records the status in memory and persists it to a
// source-specific directory with an atomic temp-file-and-rename write.
func (f *FileStore) RecordFetchStatus(_ context.Context, status FetchStatus) error {
	f.mu.Lock()
	f.statuses[status.SourceID] = status
	f.mu.Unlock()

	sourceDir := filepath.Join(f.basePath, status.SourceID)
	if err := os.MkdirAll(sourceDir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for source %q: %w", status.SourceID, err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status for source %q: %w", status.SourceID, err)
	}

	filePath := filepath.Join(sourceDir, StatusFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file for source %q: %w", status.SourceID, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file for source %q: %w", status.SourceID, err)
	}

	return nil
}

// Statuses returns a copy of the last recorded status per source id
func (f *FileStore) Statuses(_ context.Context) map[string]FetchStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]FetchStatus, len(f.statuses))
	for id, st := range f.statuses {
		out[id] = st
	}
	return out
}

// LoadStatuses reads previously persisted statuses from disk into memory.
// Missing or unreadable files are skipped; a fresh deployment has none.
func (f *FileStore) LoadStatuses() {
	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// #nosec G304 -- path is constructed from the configured status directory
		data, err := os.ReadFile(filepath.Join(f.basePath, entry.Name(), StatusFileName))
		if err != nil {
			continue
		}
		var st FetchStatus
		if err := json.Unmarshal(data, &st); err != nil {
			continue
		}
		f.statuses[st.SourceID] = st
	}
}
