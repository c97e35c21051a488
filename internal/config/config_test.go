package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/poller"
)

func env(kv map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := kv[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "simulate", cfg.Mode)
	assert.Equal(t, 15*time.Minute, cfg.PipelineTimeout)
	assert.Equal(t, 60*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 12, cfg.Executor.Health.Attempts)
	assert.Equal(t, 9, cfg.Rollback.Health.Attempts)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipyard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: real
listen: ":8088"
remote:
  ssh:
    host: 192.168.56.10
    private_key_path: /keys/id_ed25519
  deployer:
    container: api
executor:
  health:
    interval: 2s
    attempts: 5
poller:
  enabled: true
  interval: 30s
  repos:
    - url: https://github.com/acme/api.git
      branches: [main, release]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "real", cfg.Mode)
	assert.Equal(t, ":8088", cfg.Listen)
	assert.Equal(t, "192.168.56.10", cfg.Remote.SSH.Host)
	assert.Equal(t, 22, cfg.Remote.SSH.Port)
	assert.Equal(t, "api", cfg.Remote.Deployer.Container)
	assert.Equal(t, 8080, cfg.Remote.Deployer.Port)
	assert.Equal(t, 2*time.Second, cfg.Executor.Health.Interval)
	assert.Equal(t, 5, cfg.Executor.Health.Attempts)
	assert.Equal(t, "maven:3.9-eclipse-temurin-17", cfg.Executor.ToolchainImage)
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)

	watches, err := cfg.Watches()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/api@main", "acme/api@release"}, []string{watches[0].Key(), watches[1].Key()})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyEnv(env(map[string]string{
		"PIPELINE_MODE":         "real",
		"VM_HOST":               "10.0.0.5",
		"VM_SSH_PORT":           "2222",
		"PIPELINE_TIMEOUT":      "20m",
		"GITHUB_WEBHOOK_SECRET": "hush",
		"GIT_POLLING_ENABLED":   "true",
		"APP_REPO_URL":          "https://github.com/acme/demo.git",
		"GIT_POLL_BRANCHES":     "master,develop",
		"SONAR_TOKEN":           "",
	})))

	assert.Equal(t, "real", cfg.Mode)
	assert.Equal(t, "10.0.0.5", cfg.Remote.SSH.Host)
	assert.Equal(t, 2222, cfg.Remote.SSH.Port)
	assert.Equal(t, 20*time.Minute, cfg.PipelineTimeout)
	assert.Equal(t, "hush", cfg.Webhook.Secret)
	assert.True(t, cfg.Poller.Enabled)
	assert.Equal(t, []RepoWatch{{URL: "https://github.com/acme/demo.git", Branches: []string{"master", "develop"}}}, cfg.Poller.Repos)
	assert.Empty(t, cfg.Analysis.Token)
	require.NoError(t, cfg.Validate())

	assert.Error(t, Default().applyEnv(env(map[string]string{"VM_SSH_PORT": "ssh"})))
	assert.Error(t, Default().applyEnv(env(map[string]string{"GIT_POLL_INTERVAL": "60000"})))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "dry-run" }},
		{"poll interval too short", func(c *Config) { c.Poller.Interval = poller.MinInterval - time.Second }},
		{"no health attempts", func(c *Config) { c.Executor.Health.Attempts = 0 }},
		{"no rollback attempts", func(c *Config) { c.Rollback.Health.Attempts = 0 }},
		{"zero timeout", func(c *Config) { c.PipelineTimeout = 0 }},
		{"real mode without host", func(c *Config) { c.Mode = "real" }},
		{"non github repo", func(c *Config) {
			c.Poller.Repos = []RepoWatch{{URL: "https://example.com/x/y.git"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), entity.ErrInvalid)
		})
	}
}
