package executor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/remote"
	"github.com/yz4230/shipyard/internal/scan"
)

type fakeWorkspace struct{ root string }

func (w *fakeWorkspace) Prepare(_ context.Context, id entity.ID) (string, error) {
	return w.Path(id), nil
}
func (w *fakeWorkspace) Path(id entity.ID) string { return filepath.Join(w.root, "pipeline-"+id.String()) }
func (w *fakeWorkspace) Remove(_ context.Context, id entity.ID) error {
	return os.RemoveAll(w.Path(id))
}
func (w *fakeWorkspace) TempPath(name string) string { return filepath.Join(w.root, "tmp", name) }

type fakeRunner struct {
	commands []string
	err      error
}

func (r *fakeRunner) Run(_ context.Context, _ string, command string) (string, error) {
	r.commands = append(r.commands, command)
	return "ok", r.err
}

type fakeImages struct {
	built []string
	saved []string
}

func (i *fakeImages) Build(_ context.Context, _ string, tag string) (string, error) {
	i.built = append(i.built, tag)
	return "Successfully tagged " + tag, nil
}

func (i *fakeImages) Save(_ context.Context, tag, path string) error {
	i.saved = append(i.saved, path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(tag), 0o644)
}

type fakeDeployer struct {
	mu         sync.Mutex
	healthyAt  int
	probes     int
	logLines   int
	uploads    [][2]string
	deployed   []string
	status     string
	healthErr  error
	deployErr  error
	imagesOnVM map[string]bool
}

var _ remote.Deployer = (*fakeDeployer)(nil)

func (d *fakeDeployer) Deploy(_ context.Context, image string) (string, error) {
	return d.switchTo(image)
}

func (d *fakeDeployer) DeployWithImage(_ context.Context, image, _ string) (string, error) {
	return d.switchTo(image)
}

func (d *fakeDeployer) Rollback(_ context.Context, image string) (string, error) {
	return d.switchTo(image)
}

func (d *fakeDeployer) switchTo(image string) (string, error) {
	if err := remote.ValidateImage(image); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deployErr != nil {
		return "", d.deployErr
	}
	d.deployed = append(d.deployed, image)
	return "container-id", nil
}

func (d *fakeDeployer) ImageExists(_ context.Context, image string) (bool, error) {
	if d.imagesOnVM == nil {
		return true, nil
	}
	return d.imagesOnVM[image], nil
}

func (d *fakeDeployer) HealthCheck(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes++
	if d.healthErr != nil {
		return false, d.healthErr
	}
	return d.healthyAt > 0 && d.probes >= d.healthyAt, nil
}

func (d *fakeDeployer) ContainerStatus(context.Context) (string, error) {
	if d.status == "" {
		return "Up 2 seconds", nil
	}
	return d.status, nil
}

func (d *fakeDeployer) Logs(_ context.Context, lines int) (string, error) {
	d.logLines = lines
	return "java.lang.IllegalStateException: boom", nil
}

func (d *fakeDeployer) TestConnection(context.Context) (bool, error) { return true, nil }

func (d *fakeDeployer) Upload(_ context.Context, local, remotePath string) error {
	d.uploads = append(d.uploads, [2]string{local, remotePath})
	return nil
}

type fakeAnalysis struct {
	available   bool
	runErr      error
	reportErr   error
	keys        []string
	runDeadline bool
	gateErr     error
}

func (a *fakeAnalysis) IsAvailable(context.Context) bool { return a.available }
func (a *fakeAnalysis) EnsureProject(_ context.Context, key, _ string) error {
	a.keys = append(a.keys, key)
	return nil
}
func (a *fakeAnalysis) RunAnalysis(ctx context.Context, _, _ string) (string, error) {
	_, a.runDeadline = ctx.Deadline()
	return "done", a.runErr
}
func (a *fakeAnalysis) QualityGateStatus(context.Context, string) (string, error) {
	if a.gateErr != nil {
		return "", a.gateErr
	}
	return "ERROR", nil
}
func (a *fakeAnalysis) Report(_ context.Context, key string) (*entity.AnalysisSummary, error) {
	if a.reportErr != nil {
		return nil, a.reportErr
	}
	return &entity.AnalysisSummary{ProjectKey: key, QualityGate: "OK", Bugs: 1, Coverage: 70}, nil
}

type fakeScanner struct {
	result *scan.Result
	err    error
}

func (s *fakeScanner) RunFullPentest(_ context.Context, target string, _ scan.Options) (*scan.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.Target = target
	return &r, nil
}

func noSleep(context.Context, time.Duration) error { return nil }
