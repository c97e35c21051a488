// Package config loads the server configuration: compiled defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yz4230/shipyard/internal/analysis"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/executor"
	"github.com/yz4230/shipyard/internal/healthcheck"
	"github.com/yz4230/shipyard/internal/poller"
	"github.com/yz4230/shipyard/internal/remote"
	"github.com/yz4230/shipyard/internal/runner"
	"github.com/yz4230/shipyard/internal/scan"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode            string        `yaml:"mode"`
	Listen          string        `yaml:"listen"`
	DataDir         string        `yaml:"data_dir"`
	WorkspaceDir    string        `yaml:"workspace_dir"`
	DockerHost      string        `yaml:"docker_host"`
	PipelineTimeout time.Duration `yaml:"pipeline_timeout"`

	Log      LogConfig       `yaml:"log"`
	Remote   RemoteConfig    `yaml:"remote"`
	Executor executor.Config `yaml:"executor"`
	Rollback RollbackConfig  `yaml:"rollback"`
	Analysis analysis.Config `yaml:"analysis"`
	Scan     scan.Config     `yaml:"scan"`
	Poller   PollerConfig    `yaml:"poller"`
	Webhook  WebhookConfig   `yaml:"webhook"`
}

// LogConfig enables a rotating log file next to the console output.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type RemoteConfig struct {
	SSH      remote.SSHConfig      `yaml:"ssh"`
	Deployer remote.DeployerConfig `yaml:"deployer"`
}

type RollbackConfig struct {
	Health healthcheck.Policy `yaml:"health"`
}

type PollerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	GitHubToken string        `yaml:"github_token"`
	GitHubURL   string        `yaml:"github_url"`
	Repos       []RepoWatch   `yaml:"repos"`
}

type RepoWatch struct {
	URL      string   `yaml:"url"`
	Branches []string `yaml:"branches"`
}

type WebhookConfig struct {
	// Secret enables X-Hub-Signature-256 verification when set.
	Secret string `yaml:"secret"`
}

func Default() *Config {
	return &Config{
		Mode:            string(executor.ModeSimulate),
		Listen:          ":3001",
		DataDir:         "./data",
		WorkspaceDir:    "/tmp/cicd-workspace",
		PipelineTimeout: runner.DefaultTimeout,
		Log:             LogConfig{MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 28},
		Remote: RemoteConfig{
			SSH: remote.SSHConfig{
				Port:           22,
				User:           "vagrant",
				DialTimeout:    10 * time.Second,
				CommandTimeout: 60 * time.Second,
				UploadTimeout:  5 * time.Minute,
			},
			Deployer: remote.DefaultDeployerConfig(),
		},
		Executor: executor.DefaultConfig(),
		Rollback: RollbackConfig{Health: healthcheck.Policy{Interval: 10 * time.Second, Attempts: 9}},
		Analysis: analysis.Config{URL: "http://localhost:9000", Timeout: 10 * time.Second},
		Scan:     scan.Config{Target: "http://localhost:8080", Timeout: 10 * time.Minute},
		Poller:   PollerConfig{Interval: poller.DefaultInterval},
	}
}

// Load reads path over the defaults; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := map[string]*string{
		"PIPELINE_MODE":         &c.Mode,
		"WORKSPACE_DIR":         &c.WorkspaceDir,
		"VM_HOST":               &c.Remote.SSH.Host,
		"VM_USER":               &c.Remote.SSH.User,
		"SSH_KEY_PATH":          &c.Remote.SSH.PrivateKeyPath,
		"SONAR_URL":             &c.Analysis.URL,
		"SONAR_EXTERNAL_URL":    &c.Analysis.ExternalURL,
		"SONAR_TOKEN":           &c.Analysis.Token,
		"PENTEST_TARGET_URL":    &c.Scan.Target,
		"GITHUB_TOKEN":          &c.Poller.GitHubToken,
		"GITHUB_WEBHOOK_SECRET": &c.Webhook.Secret,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("VM_SSH_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VM_SSH_PORT: %w", err)
		}
		c.Remote.SSH.Port = port
	}
	durations := map[string]*time.Duration{
		"PIPELINE_TIMEOUT":  &c.PipelineTimeout,
		"GIT_POLL_INTERVAL": &c.Poller.Interval,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	if v, ok := lookup("GIT_POLLING_ENABLED"); ok {
		c.Poller.Enabled = v == "true"
	}
	if v, ok := lookup("APP_REPO_URL"); ok && v != "" {
		branches := []string{"master"}
		if b, ok := lookup("GIT_POLL_BRANCHES"); ok && b != "" {
			branches = strings.Split(b, ",")
		}
		c.Poller.Repos = []RepoWatch{{URL: v, Branches: branches}}
	}
	return nil
}

func (c *Config) Validate() error {
	mode, err := executor.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	if c.PipelineTimeout <= 0 {
		return &entity.ValidationError{Field: "pipeline_timeout", Reason: "must be positive"}
	}
	if c.Poller.Interval < poller.MinInterval {
		return &entity.ValidationError{Field: "poller.interval", Reason: fmt.Sprintf("must be at least %s", poller.MinInterval)}
	}
	if c.Executor.Health.Attempts <= 0 || c.Rollback.Health.Attempts <= 0 {
		return &entity.ValidationError{Field: "health.attempts", Reason: "must be positive"}
	}
	if _, err := c.Watches(); err != nil {
		return err
	}
	if mode == executor.ModeReal {
		if c.Remote.SSH.Host == "" {
			return &entity.ValidationError{Field: "remote.ssh.host", Reason: "is required in real mode"}
		}
		if err := c.Remote.Deployer.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Watches expands the configured repositories into one watch per branch.
func (c *Config) Watches() ([]poller.Watch, error) {
	var watches []poller.Watch
	for _, r := range c.Poller.Repos {
		branches := r.Branches
		if len(branches) == 0 {
			branches = []string{""}
		}
		for _, b := range branches {
			w, err := poller.NewWatch(r.URL, strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("poller repo %q: %w", r.URL, err)
			}
			watches = append(watches, w)
		}
	}
	return watches, nil
}
