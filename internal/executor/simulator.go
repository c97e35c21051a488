package executor

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/analysis"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/healthcheck"
	"github.com/yz4230/shipyard/internal/remote"
	"github.com/yz4230/shipyard/internal/scan"
)

// Simulator pretends to run each step: it sleeps a random while and returns
// canned output.
type Simulator struct {
	cfg   SimulateConfig
	sleep healthcheck.SleepFunc
	log   zerolog.Logger
}

var _ Executor = (*Simulator)(nil)

func NewSimulator(cfg SimulateConfig, log zerolog.Logger) *Simulator {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.App == "" {
		cfg.App = DefaultConfig().App
	}
	return &Simulator{cfg: cfg, sleep: healthcheck.Sleep, log: log}
}

func (s *Simulator) pause(ctx context.Context) error {
	d := s.cfg.MinDelay
	if spread := s.cfg.MaxDelay - s.cfg.MinDelay; spread > 0 {
		d += rand.N(spread)
	}
	if d <= 0 {
		return nil
	}
	return s.sleep(ctx, d)
}

func (s *Simulator) output(ctx context.Context, format string, args ...any) (*Result, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	return &Result{Output: fmt.Sprintf(format, args...)}, nil
}

func (s *Simulator) Clone(ctx context.Context, p *entity.Pipeline) (*Result, error) {
	return s.output(ctx, "Cloned %s (branch: %s)", p.RepoURL, p.Branch)
}

func (s *Simulator) Test(ctx context.Context, _ *entity.Pipeline) (*Result, error) {
	return s.output(ctx, "Tests passed: 117/117")
}

func (s *Simulator) Build(ctx context.Context, _ *entity.Pipeline) (*Result, error) {
	return s.output(ctx, "BUILD SUCCESS - %s-0.0.1-SNAPSHOT.jar", s.cfg.App)
}

func (s *Simulator) Analyze(ctx context.Context, p *entity.Pipeline) (*Result, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	key := analysis.ProjectKey(p.RepoName(), p.Branch)
	summary := &entity.AnalysisSummary{
		ProjectKey:      key,
		QualityGate:     "OK",
		Bugs:            rand.IntN(5),
		Vulnerabilities: rand.IntN(3),
		CodeSmells:      rand.IntN(40),
		Coverage:        float64(600+rand.IntN(350)) / 10,
		DashboardURL:    "http://localhost:9001/dashboard?id=" + key,
	}
	return &Result{Output: analysis.Summary(summary), Analysis: summary}, nil
}

func (s *Simulator) BuildImage(ctx context.Context, p *entity.Pipeline) (*Result, error) {
	return s.output(ctx, "Built image: %s", remote.ImageRef(s.cfg.App, p.ImageTag()))
}

func (s *Simulator) Deploy(ctx context.Context, _ *entity.Pipeline) (*Result, error) {
	return s.output(ctx, "Container deployed and running on VM")
}

func (s *Simulator) HealthCheck(ctx context.Context, _ *entity.Pipeline) (*Result, error) {
	return s.output(ctx, "Health check passed: HTTP 200 OK")
}

func (s *Simulator) SecurityScan(ctx context.Context, _ *entity.Pipeline) (*Result, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	res := &scan.Result{
		Target: "http://localhost:8080",
		Vulnerabilities: scan.Counts{
			Medium: rand.IntN(2),
			Low:    rand.IntN(4),
			Info:   rand.IntN(6),
		},
	}
	summary := res.Summary()
	return &Result{Output: summary.Report, Security: summary}, nil
}
