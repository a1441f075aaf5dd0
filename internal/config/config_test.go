package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into an empty directory so no config.yaml from the
// working tree leaks into viper's search path.
func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "terraform", cfg.Terraform.Binary)
	assert.Equal(t, "docker", cfg.Docker.Binary)
	assert.Equal(t, "/health", cfg.Deploy.HealthPath)
	assert.Equal(t, 30, cfg.Deploy.HealthRetries)
	assert.Equal(t, 10*time.Second, cfg.Deploy.HealthInterval)
	assert.Equal(t, 10*time.Minute, cfg.Deploy.CommandTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.State.BackupEnabled)
}

func TestLoadFromFile(t *testing.T) {
	chdirTemp(t)

	yaml := `
project:
  name: shop
  environment: staging
aws:
  region: eu-west-1
deploy:
  auto_scaling_group: shop-staging-asg
  health_retries: 5
  command_timeout: 2m
`
	wd, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(wd, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.Project.Name)
	assert.Equal(t, "staging", cfg.Project.Environment)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "shop-staging-asg", cfg.Deploy.AutoScalingGroup)
	assert.Equal(t, 5, cfg.Deploy.HealthRetries)
	assert.Equal(t, 2*time.Minute, cfg.Deploy.CommandTimeout)
}

func TestLoadFileExplicitPath(t *testing.T) {
	chdirTemp(t)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project:\n  name: custom\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.Project.Name)
}

func TestAmbientRegionOverridesFile(t *testing.T) {
	chdirTemp(t)
	t.Setenv("AWS_REGION", "ap-southeast-2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast-2", cfg.AWS.Region)
}

func TestIsProductionMode(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	assert.False(t, cfg.IsProductionMode())

	cfg.Logging.Level = "info"
	assert.True(t, cfg.IsProductionMode())
}
