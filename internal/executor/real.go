package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/analysis"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/git"
	"github.com/yz4230/shipyard/internal/healthcheck"
	"github.com/yz4230/shipyard/internal/remote"
	"github.com/yz4230/shipyard/internal/scan"
	"github.com/yz4230/shipyard/internal/utils"
)

// Real runs every step against live infrastructure.
type Real struct {
	cfg   Config
	deps  Deps
	clone func(ctx context.Context, repoURL, branch, dir string) (string, error)
	sleep healthcheck.SleepFunc
	log   zerolog.Logger
}

var (
	_ Executor = (*Real)(nil)
	_ Cleaner  = (*Real)(nil)
)

func NewReal(cfg Config, deps Deps) (*Real, error) {
	var missing []string
	if deps.Workspace == nil {
		missing = append(missing, "workspace")
	}
	if deps.Toolchain == nil {
		missing = append(missing, "toolchain")
	}
	if deps.Images == nil {
		missing = append(missing, "images")
	}
	if deps.Deployer == nil {
		missing = append(missing, "deployer")
	}
	if deps.Analysis == nil {
		missing = append(missing, "analysis")
	}
	if deps.Scanner == nil {
		missing = append(missing, "scanner")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("real executor: missing %s", strings.Join(missing, ", "))
	}
	if cfg.App == "" {
		cfg.App = DefaultConfig().App
	}
	return &Real{
		cfg:   cfg,
		deps:  deps,
		clone: git.Clone,
		sleep: healthcheck.Sleep,
		log:   deps.Log,
	}, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (r *Real) image(p *entity.Pipeline) string {
	return remote.ImageRef(r.cfg.App, p.ImageTag())
}

func (r *Real) Clone(ctx context.Context, p *entity.Pipeline) (*Result, error) {
	dir, err := r.deps.Workspace.Prepare(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	cloneCtx, cancel := withTimeout(ctx, r.cfg.CloneTimeout)
	defer cancel()
	out, err := r.clone(cloneCtx, p.RepoURL, p.Branch, dir)
	if err != nil {
		return nil, err
	}
	// Wrapper scripts lose their exec bit on some hosts.
	for _, wrapper := range []string{"mvnw", "gradlew"} {
		if _, err := os.Stat(filepath.Join(dir, wrapper)); err == nil {
			_ = os.Chmod(filepath.Join(dir, wrapper), 0o755)
		}
	}
	return &Result{Output: fmt.Sprintf("Cloned %s (branch: %s)\n%s", utils.SafeURL(p.RepoURL), p.Branch, out)}, nil
}

func (r *Real) runTool(ctx context.Context, p *entity.Pipeline, command string, timeout time.Duration) (string, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return r.deps.Toolchain.Run(ctx, r.deps.Workspace.Path(p.ID), command)
}

func (r *Real) Test(ctx context.Context, p *entity.Pipeline) (*Result, error) {
	out, err := r.runTool(ctx, p, r.cfg.TestCommand, r.cfg.TestTimeout)
	if err != nil {
		return nil, err
	}
	return &Result{Output: "Tests completed\n" + out}, nil
}

func (r *Real) Build(ctx context.Context, p *entity.Pipeline) (*Result, error) {
	out, err := r.runTool(ctx, p, r.cfg.BuildCommand, r.cfg.BuildTimeout)
	if err != nil {
		return nil, err
	}
	return &Result{Output: "BUILD SUCCESS\n" + out}, nil
}

// Analyze degrades to a skip note when the analysis server is unreachable.
func (r *Real) Analyze(ctx context.Context, p *entity.Pipeline) (*Result, error) {
	svc := r.deps.Analysis
	if !svc.IsAvailable(ctx) {
		return &Result{Output: "SonarQube skipped (server not available)"}, nil
	}

	repo := p.RepoName()
	key := analysis.ProjectKey(repo, p.Branch)
	if err := svc.EnsureProject(ctx, key, repo); err != nil {
		r.log.Warn().Err(err).Str("project", key).Msg("failed to ensure analysis project")
	}
	scanCtx, cancel := withTimeout(ctx, r.cfg.AnalysisTimeout)
	defer cancel()
	if _, err := svc.RunAnalysis(scanCtx, r.deps.Workspace.Path(p.ID), key); err != nil {
		return nil, fmt.Errorf("SonarQube analysis failed: %w", err)
	}
	if err := r.sleep(ctx, r.cfg.AnalysisDelay); err != nil {
		return nil, err
	}

	report, err := svc.Report(ctx, key)
	if err != nil {
		r.log.Warn().Err(err).Str("project", key).Msg("failed to fetch analysis report")
		gate, gateErr := svc.QualityGateStatus(ctx, key)
		if gateErr != nil {
			r.log.Warn().Err(gateErr).Str("project", key).Msg("failed to fetch quality gate")
		}
		report = &entity.AnalysisSummary{ProjectKey: key, QualityGate: gate}
	}
	return &Result{Output: analysis.Summary(report), Analysis: report}, nil
}

func (r *Real) BuildImage(ctx context.Context, p *entity.Pipeline) (*Result, error) {
	image := r.image(p)
	if err := remote.ValidateImage(image); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, r.cfg.ImageTimeout)
	defer cancel()
	out, err := r.deps.Images.Build(ctx, r.deps.Workspace.Path(p.ID), image)
	if err != nil {
		return nil, err
	}
	return &Result{Output: fmt.Sprintf("Built image: %s\n%s", image, out)}, nil
}

// Deploy ships the image as an archive over the remote channel and starts it.
func (r *Real) Deploy(ctx context.Context, p *entity.Pipeline) (*Result, error) {
	image := r.image(p)
	if err := remote.ValidateImage(image); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, r.cfg.DeployTimeout)
	defer cancel()

	name := strings.ReplaceAll(image, ":", "-") + ".tar"
	local := r.deps.Workspace.TempPath(name)
	if err := r.deps.Images.Save(ctx, image, local); err != nil {
		return nil, err
	}
	defer os.Remove(local)

	target := path.Join(r.cfg.RemoteTmpDir, name)
	if err := r.deps.Deployer.Upload(ctx, local, target); err != nil {
		return nil, fmt.Errorf("transfer image: %w", err)
	}
	out, err := r.deps.Deployer.DeployWithImage(ctx, image, target)
	if err != nil {
		return nil, err
	}
	return &Result{Output: fmt.Sprintf("Deployed %s\n%s", image, out)}, nil
}

func (r *Real) HealthCheck(ctx context.Context, _ *entity.Pipeline) (*Result, error) {
	outcome, err := healthcheck.Wait(ctx, r.cfg.Health, r.deps.Deployer.HealthCheck, r.sleep)
	if err == nil {
		return &Result{Output: fmt.Sprintf("Health check passed after %d seconds: Application is UP",
			int(outcome.Elapsed.Seconds()))}, nil
	}
	if !errors.Is(err, entity.ErrHealthCheckExhausted) {
		return nil, err
	}

	logs, logErr := r.deps.Deployer.Logs(ctx, r.cfg.HealthLogLines)
	if logErr != nil {
		logs = fmt.Sprintf("(failed to fetch logs: %v)", logErr)
	}
	return nil, fmt.Errorf("%w after %d seconds. Container logs:\n%s",
		entity.ErrHealthCheckExhausted, int(r.cfg.Health.Budget().Seconds()), logs)
}

// SecurityScan fails the step when the scan itself fails; findings only
// affect the recorded security status.
func (r *Real) SecurityScan(ctx context.Context, _ *entity.Pipeline) (*Result, error) {
	res, err := r.deps.Scanner.RunFullPentest(ctx, r.cfg.ScanTarget, scan.Options{UseZap: true, QuickScan: true})
	if err != nil {
		return nil, fmt.Errorf("security scan failed: %w", err)
	}
	summary := res.Summary()
	return &Result{Output: summary.Report, Security: summary}, nil
}

func (r *Real) Cleanup(ctx context.Context, p *entity.Pipeline) error {
	return r.deps.Workspace.Remove(ctx, p.ID)
}
