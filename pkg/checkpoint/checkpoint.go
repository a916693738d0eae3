package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"twitgather/pkg/logger"
)

// Newest is the checkpoint value meaning "start from the newest post"
const Newest int64 = math.MaxInt64

// Tracker holds the minimum-seen checkpoint. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	current int64
}

// NewTracker starts at start, or at Newest when start is not positive
func NewTracker(start int64) *Tracker {
	if start <= 0 {
		start = Newest
	}
	return &Tracker{current: start}
}

// Observe lowers the checkpoint to id-1 if that is below the current value.
// It returns the checkpoint after the update.
func (t *Tracker) Observe(id int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id-1 < t.current {
		t.current = id - 1
	}
	return t.current
}

// Current returns the checkpoint
func (t *Tracker) Current() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Checkpoint is the persisted state of a backfill session
type Checkpoint struct {
	Query      string    `json:"query"`
	LastID     int64     `json:"last_id"`
	Iterations int       `json:"iterations"`
	Written    int       `json:"written"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Version    int       `json:"version"`
}

// Manager handles checkpoint file operations
type Manager struct {
	mu             sync.Mutex
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a manager for the checkpoint file at path
func NewManager(path string, log logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Manager{
		checkpointPath: path,
		logger:         log,
	}, nil
}

// Path returns the checkpoint file path
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create creates and saves a new checkpoint for query
func (m *Manager) Create(query string, lastID int64) (*Checkpoint, error) {
	now := time.Now()
	cp := &Checkpoint{
		Query:     query,
		LastID:    lastID,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	if err := m.Save(cp); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"query": query,
		"path":  m.checkpointPath,
	})

	return cp, nil
}

// Load loads an existing checkpoint. It returns nil, nil when there is none.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"query":      cp.Query,
		"last_id":    cp.LastID,
		"written":    cp.Written,
		"updated_at": cp.UpdatedAt,
	})

	return &cp, nil
}

// Save saves the checkpoint to disk atomically
func (m *Manager) Save(cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"last_id":    cp.LastID,
		"iterations": cp.Iterations,
		"written":    cp.Written,
	})

	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// UpdateProgress records the tracker position after an iteration
func (m *Manager) UpdateProgress(cp *Checkpoint, lastID int64, written int) error {
	cp.LastID = lastID
	cp.Iterations++
	cp.Written += written
	return m.Save(cp)
}

// GetCheckpointInfo returns a summary of the checkpoint
func (m *Manager) GetCheckpointInfo() (map[string]interface{}, error) {
	cp, err := m.Load()
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}

	return map[string]interface{}{
		"query":      cp.Query,
		"last_id":    cp.LastID,
		"iterations": cp.Iterations,
		"written":    cp.Written,
		"created_at": cp.CreatedAt,
		"updated_at": cp.UpdatedAt,
		"age":        time.Since(cp.UpdatedAt),
	}, nil
}

// BackupCheckpoint copies the current checkpoint next to itself
func (m *Manager) BackupCheckpoint() error {
	if !m.Exists() {
		return nil
	}

	backupPath := m.checkpointPath + ".backup"

	src, err := os.Open(m.checkpointPath)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy checkpoint to backup: %w", err)
	}

	m.logger.Debug("Checkpoint backed up")
	return nil
}
