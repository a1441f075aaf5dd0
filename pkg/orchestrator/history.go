package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/versus-control/deployctl/pkg/types"
)

// History persists completed deployments to a JSON file so rollbacks can
// resolve the previously deployed image tag across process restarts.
type History struct {
	filePath      string
	backupEnabled bool
	backupDir     string
	mu            sync.Mutex
}

// historyDocument is the on-disk shape of the deployment history.
type historyDocument struct {
	Version     string              `json:"version"`
	LastUpdated time.Time           `json:"lastUpdated"`
	Deployments []*types.Deployment `json:"deployments"`
}

// NewHistory creates a history store at filePath.
func NewHistory(filePath string, backupEnabled bool, backupDir string) *History {
	return &History{
		filePath:      filePath,
		backupEnabled: backupEnabled,
		backupDir:     backupDir,
	}
}

// Load reads all recorded deployments, oldest first. A missing file is an
// empty history.
func (h *History) Load() ([]*types.Deployment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load()
}

func (h *History) load() ([]*types.Deployment, error) {
	data, err := os.ReadFile(h.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read deployment history: %w", err)
	}

	var doc historyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse deployment history: %w", err)
	}
	return doc.Deployments, nil
}

// Append records a deployment, backing up the previous file when enabled.
// The write is atomic: temp file then rename.
func (h *History) Append(deployment *types.Deployment) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	deployments, err := h.load()
	if err != nil {
		return err
	}
	deployments = append(deployments, deployment)

	if h.backupEnabled {
		if err := h.backup(); err != nil {
			return err
		}
	}

	doc := historyDocument{
		Version:     "1.0",
		LastUpdated: time.Now(),
		Deployments: deployments,
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode deployment history: %w", err)
	}

	tmp := h.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write deployment history: %w", err)
	}
	if err := os.Rename(tmp, h.filePath); err != nil {
		return fmt.Errorf("failed to replace deployment history: %w", err)
	}
	return nil
}

// LastSuccessful returns the most recent completed deployment, nil when none.
func (h *History) LastSuccessful() (*types.Deployment, error) {
	deployments, err := h.Load()
	if err != nil {
		return nil, err
	}
	for i := len(deployments) - 1; i >= 0; i-- {
		if deployments[i].Status == types.DeploymentCompleted {
			return deployments[i], nil
		}
	}
	return nil, nil
}

func (h *History) backup() error {
	data, err := os.ReadFile(h.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history for backup: %w", err)
	}

	if err := os.MkdirAll(h.backupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s", filepath.Base(h.filePath), time.Now().Format("20060102-150405"))
	if err := os.WriteFile(filepath.Join(h.backupDir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write history backup: %w", err)
	}
	return nil
}
