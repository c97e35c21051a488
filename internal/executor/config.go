package executor

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/analysis"
	"github.com/yz4230/shipyard/internal/healthcheck"
	"github.com/yz4230/shipyard/internal/remote"
	"github.com/yz4230/shipyard/internal/scan"
	"github.com/yz4230/shipyard/internal/storage"
	"github.com/yz4230/shipyard/internal/toolchain"
)

type SimulateConfig struct {
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	App      string        `yaml:"-"`
}

type Config struct {
	App             string             `yaml:"app"`
	ToolchainImage  string             `yaml:"toolchain_image"`
	TestCommand     string             `yaml:"test_command"`
	BuildCommand    string             `yaml:"build_command"`
	CloneTimeout    time.Duration      `yaml:"clone_timeout"`
	TestTimeout     time.Duration      `yaml:"test_timeout"`
	BuildTimeout    time.Duration      `yaml:"build_timeout"`
	ImageTimeout    time.Duration      `yaml:"image_timeout"`
	DeployTimeout   time.Duration      `yaml:"deploy_timeout"`
	AnalysisTimeout time.Duration      `yaml:"analysis_timeout"`
	AnalysisDelay   time.Duration      `yaml:"analysis_delay"`
	Health          healthcheck.Policy `yaml:"health"`
	HealthLogLines  int                `yaml:"health_log_lines"`
	ScanTarget      string             `yaml:"scan_target"`
	RemoteTmpDir    string             `yaml:"remote_tmp_dir"`
	Simulate        SimulateConfig     `yaml:"simulate"`
}

func DefaultConfig() Config {
	return Config{
		App:             "bfb-management",
		ToolchainImage:  "maven:3.9-eclipse-temurin-17",
		TestCommand:     "./mvnw test -q",
		BuildCommand:    "./mvnw package -DskipTests -q",
		CloneTimeout:    5 * time.Minute,
		TestTimeout:     5 * time.Minute,
		BuildTimeout:    5 * time.Minute,
		ImageTimeout:    10 * time.Minute,
		DeployTimeout:   5 * time.Minute,
		AnalysisTimeout: 10 * time.Minute,
		AnalysisDelay:   5 * time.Second,
		Health:          healthcheck.Policy{Interval: 10 * time.Second, Attempts: 12},
		HealthLogLines:  30,
		ScanTarget:      "http://localhost:8080",
		RemoteTmpDir:    "/tmp",
		Simulate:        SimulateConfig{MinDelay: time.Second, MaxDelay: 3 * time.Second},
	}
}

// Deps are the collaborators the real executor drives.
type Deps struct {
	Workspace storage.Workspace
	Toolchain toolchain.Runner
	Images    toolchain.Images
	Deployer  remote.Deployer
	Analysis  analysis.Service
	Scanner   scan.Service
	Log       zerolog.Logger
}
