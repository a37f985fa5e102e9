// Package history keeps a local JSON log of swaps submitted from this machine.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"venue-swap/pkg/types"
)

const (
	DefaultFileName = ".venue-swap-history.json"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("swap not found")

// Store handles persistence of swap results
type Store struct {
	filePath string
	mu       sync.RWMutex
	swaps    map[string]*types.SwapResult
}

// storeFile represents the JSON structure on disk
type storeFile struct {
	Swaps map[string]*types.SwapResult `json:"swaps"`
}

// NewStore opens the store at filePath, defaulting to the home directory
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	s := &Store{
		filePath: filePath,
		swaps:    make(map[string]*types.SwapResult),
	}

	// a missing file is created on first save
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal history: %w", err)
	}

	s.swaps = f.Swaps
	if s.swaps == nil {
		s.swaps = make(map[string]*types.SwapResult)
	}
	return nil
}

// saveLocked writes the store to disk. The caller holds the write lock.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(storeFile{Swaps: s.swaps}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Record stores a new result, assigning an id and creation time when missing
func (s *Store) Record(r types.SwapResult) (types.SwapResult, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.swaps[r.ID]; exists {
		return types.SwapResult{}, fmt.Errorf("swap '%s' already recorded", r.ID)
	}
	stored := r
	s.swaps[r.ID] = &stored
	if err := s.saveLocked(); err != nil {
		delete(s.swaps, r.ID)
		return types.SwapResult{}, err
	}
	return r, nil
}

// UpdateStatus changes the status of a recorded swap. Confirming sets ConfirmedAt.
func (s *Store) UpdateStatus(id string, status types.SwapStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.swaps[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Status = status
	if status == types.SwapStatusConfirmed && r.ConfirmedAt == nil {
		now := time.Now().UTC()
		r.ConfirmedAt = &now
	}
	return s.saveLocked()
}

// Get retrieves a swap by id or transaction id
func (s *Store) Get(id string) (types.SwapResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, exists := s.swaps[id]; exists {
		return *r, nil
	}
	for _, r := range s.swaps {
		if r.TransactionID == id {
			return *r, nil
		}
	}
	return types.SwapResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns all swaps, newest first
func (s *Store) List() []types.SwapResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.SwapResult, 0, len(s.swaps))
	for _, r := range s.swaps {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FilePath returns the storage file path
func (s *Store) FilePath() string {
	return s.filePath
}
