package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/deployctl/pkg/types"
)

func testDeployment(id, tag, status string) *types.Deployment {
	return &types.Deployment{
		ID:        id,
		Project:   "shop",
		ImageTag:  tag,
		Status:    status,
		StartedAt: time.Now(),
	}
}

func TestHistoryLoadMissingFile(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "deployments.state"), false, "")

	deployments, err := h.Load()
	require.NoError(t, err)
	assert.Empty(t, deployments)
}

func TestHistoryAppendAndLoad(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "deployments.state"), false, "")

	require.NoError(t, h.Append(testDeployment("d1", "v1", types.DeploymentCompleted)))
	require.NoError(t, h.Append(testDeployment("d2", "v2", types.DeploymentFailed)))

	deployments, err := h.Load()
	require.NoError(t, err)
	require.Len(t, deployments, 2)
	assert.Equal(t, "d1", deployments[0].ID)
	assert.Equal(t, "d2", deployments[1].ID)
}

func TestHistoryLastSuccessful(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "deployments.state"), false, "")

	require.NoError(t, h.Append(testDeployment("d1", "v1", types.DeploymentCompleted)))
	require.NoError(t, h.Append(testDeployment("d2", "v2", types.DeploymentCompleted)))
	require.NoError(t, h.Append(testDeployment("d3", "v3", types.DeploymentFailed)))

	last, err := h.LastSuccessful()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "v2", last.ImageTag)
}

func TestHistoryLastSuccessfulEmpty(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "deployments.state"), false, "")

	last, err := h.LastSuccessful()
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestHistoryBackups(t *testing.T) {
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	h := NewHistory(filepath.Join(dir, "deployments.state"), true, backupDir)

	// First append has nothing to back up
	require.NoError(t, h.Append(testDeployment("d1", "v1", types.DeploymentCompleted)))
	entries, _ := os.ReadDir(backupDir)
	assert.Empty(t, entries)

	// Second append backs up the previous file
	require.NoError(t, h.Append(testDeployment("d2", "v2", types.DeploymentCompleted)))
	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "deployments.state")
}

func TestHistoryRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments.state")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	h := NewHistory(path, false, "")
	_, err := h.Load()
	require.Error(t, err)
}
