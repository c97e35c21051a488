package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/events"
	"github.com/yz4230/shipyard/internal/executor"
	"github.com/yz4230/shipyard/internal/lock"
	"github.com/yz4230/shipyard/internal/repository"
)

type scriptedExecutor struct {
	mu      sync.Mutex
	ran     []entity.Step
	fail    map[entity.Step]error
	panicAt map[entity.Step]bool
	hooks   map[entity.Step]func()
}

func newScripted() *scriptedExecutor {
	return &scriptedExecutor{
		fail:    map[entity.Step]error{},
		panicAt: map[entity.Step]bool{},
		hooks:   map[entity.Step]func(){},
	}
}

func (s *scriptedExecutor) do(step entity.Step) (*executor.Result, error) {
	s.mu.Lock()
	s.ran = append(s.ran, step)
	hook, err, boom := s.hooks[step], s.fail[step], s.panicAt[step]
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if boom {
		panic("executor blew up")
	}
	if err != nil {
		return nil, err
	}
	res := &executor.Result{Output: step.String() + " ok"}
	if step == entity.StepSecurityScan {
		res.Security = &entity.SecuritySummary{Status: entity.SecurityStatusWarning, Medium: 1}
	}
	return res, nil
}

func (s *scriptedExecutor) steps() []entity.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Step(nil), s.ran...)
}

func (s *scriptedExecutor) Clone(context.Context, *entity.Pipeline) (*executor.Result, error) {
	return s.do(entity.StepClone)
}
func (s *scriptedExecutor) Test(context.Context, *entity.Pipeline) (*executor.Result, error) {
	return s.do(entity.StepTest)
}
func (s *scriptedExecutor) Build(context.Context, *entity.Pipeline) (*executor.Result, error) {
	return s.do(entity.StepBuild)
}
func (s *scriptedExecutor) Analyze(context.Context, *entity.Pipeline) (*executor.Result, error) {
	return s.do(entity.StepAnalyze)
}
func (s *scriptedExecutor) BuildImage(context.Context, *entity.Pipeline) (*executor.Result, error) {
	return s.do(entity.StepBuildImage)
}
func (s *scriptedExecutor) Deploy(context.Context, *entity.Pipeline) (*executor.Result, error) {
	return s.do(entity.StepDeploy)
}
func (s *scriptedExecutor) HealthCheck(context.Context, *entity.Pipeline) (*executor.Result, error) {
	return s.do(entity.StepHealthCheck)
}
func (s *scriptedExecutor) SecurityScan(context.Context, *entity.Pipeline) (*executor.Result, error) {
	return s.do(entity.StepSecurityScan)
}

// countingLock counts successful acquires and releases of a real lock.
type countingLock struct {
	*lock.DeploymentLock
	mu       sync.Mutex
	acquires int
	releases int
}

func (c *countingLock) TryAcquire(op lock.Operation, owner entity.ID) error {
	err := c.DeploymentLock.TryAcquire(op, owner)
	if err == nil {
		c.mu.Lock()
		c.acquires++
		c.mu.Unlock()
	}
	return err
}

func (c *countingLock) Release() {
	c.mu.Lock()
	c.releases++
	c.mu.Unlock()
	c.DeploymentLock.Release()
}

type recorder struct {
	mu     sync.Mutex
	lock   *countingLock
	names  []events.Name
	heldAt map[events.Name]bool
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, e.Name)
	switch e.Name {
	case events.PipelineCompleted, events.PipelineFailed, events.PipelineCancelled:
		st := r.lock.Status()
		r.heldAt[e.Name] = r.heldAt[e.Name] || (st.Held && st.OwnerID == e.PipelineID)
	}
}

func (r *recorder) events() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Name(nil), r.names...)
}

type harness struct {
	runner      *Runner
	ex          *scriptedExecutor
	lock        *countingLock
	rec         *recorder
	pipelines   repository.PipelineRepository
	steps       repository.StepRepository
	deployments repository.DeploymentRepository
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	db, err := repository.NewSQLiteDB(t.TempDir())
	require.NoError(t, err)

	lk := &countingLock{DeploymentLock: lock.New(zerolog.Nop())}
	h := &harness{
		ex:          newScripted(),
		lock:        lk,
		rec:         &recorder{lock: lk, heldAt: map[events.Name]bool{}},
		pipelines:   repository.NewPipelineRepository(db),
		steps:       repository.NewStepRepository(db),
		deployments: repository.NewDeploymentRepository(db),
	}
	h.runner = New(Options{
		Lock:        lk,
		Executor:    h.ex,
		Pipelines:   h.pipelines,
		Steps:       h.steps,
		Deployments: h.deployments,
		Events:      h.rec,
		App:         "bfb-management",
		Timeout:     timeout,
		Log:         zerolog.Nop(),
	})
	return h
}

func (h *harness) pipeline(t *testing.T) *entity.Pipeline {
	t.Helper()
	p := &entity.Pipeline{RepoURL: "https://github.com/acme/bfb-management.git", CommitHash: "abc123"}
	p.FillDefaults()
	created, err := h.pipelines.Create(context.Background(), p)
	require.NoError(t, err)
	return created
}

func (h *harness) reload(t *testing.T, id entity.ID) *entity.Pipeline {
	t.Helper()
	p, err := h.pipelines.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) assertNoLeak(t *testing.T) {
	t.Helper()
	h.lock.mu.Lock()
	defer h.lock.mu.Unlock()
	assert.Equal(t, h.lock.acquires, h.lock.releases, "acquire/release mismatch")
	assert.False(t, h.lock.Status().Held)
	for name, held := range h.rec.heldAt {
		assert.False(t, held, "lock still held when %s was published", name)
	}
	assert.Empty(t, h.runner.Running())
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t, time.Minute)
	p := h.pipeline(t)

	require.NoError(t, h.runner.Start(context.Background(), p))
	h.runner.Wait()

	assert.Equal(t, entity.Steps[:], h.ex.steps())
	got := h.reload(t, p.ID)
	assert.Equal(t, entity.PipelineStatusSuccess, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Security)
	assert.Equal(t, entity.SecurityStatusWarning, got.Security.Status)

	recs, err := h.steps.ListByPipeline(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, recs, len(entity.Steps))
	for i, rec := range recs {
		assert.Equal(t, entity.Steps[i].String(), rec.Name)
		assert.Equal(t, entity.StepStatusSuccess, rec.Status)
	}

	current, err := h.deployments.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bfb-management:abc123", current.DockerImage)
	assert.Equal(t, p.ID, current.PipelineID)
	assert.False(t, current.IsRollback)

	names := h.rec.events()
	assert.Equal(t, events.PipelineStarted, names[0])
	assert.Equal(t, events.PipelineCompleted, names[len(names)-1])
	assert.Len(t, names, 2+2*len(entity.Steps))
	h.assertNoLeak(t)
}

func TestSuccessiveRunsLeaveOneActiveDeployment(t *testing.T) {
	h := newHarness(t, time.Minute)
	first := h.pipeline(t)
	require.NoError(t, h.runner.Start(context.Background(), first))
	h.runner.Wait()
	second := h.pipeline(t)
	require.NoError(t, h.runner.Start(context.Background(), second))
	h.runner.Wait()

	all, err := h.deployments.ListSuccessful(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	active := 0
	for _, d := range all {
		if d.IsActive() && !d.IsRollback {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, second.ID, all[0].PipelineID)
	assert.NotNil(t, all[1].RolledBackAt)
	h.assertNoLeak(t)
}

func TestRunStepFailureStopsPipeline(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ex.fail[entity.StepBuild] = errors.New("BUILD FAILURE: compilation error")
	p := h.pipeline(t)

	status, err := h.runner.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, entity.PipelineStatusFailed, status)
	assert.Equal(t, []entity.Step{entity.StepClone, entity.StepTest, entity.StepBuild}, h.ex.steps())

	got := h.reload(t, p.ID)
	assert.Equal(t, entity.PipelineStatusFailed, got.Status)
	assert.Equal(t, "BUILD FAILURE: compilation error", got.ErrorMessage)

	recs, err := h.steps.ListByPipeline(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, entity.StepStatusFailed, recs[2].Status)
	assert.Equal(t, "BUILD FAILURE: compilation error", recs[2].Output)

	_, err = h.deployments.Current(context.Background())
	assert.ErrorIs(t, err, entity.ErrNotFound)
	assert.Contains(t, h.rec.events(), events.StepFailed)
	h.assertNoLeak(t)
}

func TestRunRecoversPanics(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ex.panicAt[entity.StepDeploy] = true
	p := h.pipeline(t)

	status, err := h.runner.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, entity.PipelineStatusFailed, status)
	assert.Contains(t, h.reload(t, p.ID).ErrorMessage, "executor blew up")
	h.assertNoLeak(t)
}

func TestCancelBetweenSteps(t *testing.T) {
	h := newHarness(t, time.Minute)
	entered := make(chan struct{})
	proceed := make(chan struct{})
	h.ex.hooks[entity.StepTest] = func() {
		close(entered)
		<-proceed
	}
	p := h.pipeline(t)

	require.NoError(t, h.runner.Start(context.Background(), p))
	<-entered
	assert.True(t, h.runner.IsRunning(p.ID))
	assert.True(t, h.runner.Cancel(p.ID))
	close(proceed)
	h.runner.Wait()

	// The in-flight step finishes; the next one never starts.
	assert.Equal(t, []entity.Step{entity.StepClone, entity.StepTest}, h.ex.steps())
	got := h.reload(t, p.ID)
	assert.Equal(t, entity.PipelineStatusCancelled, got.Status)
	assert.Equal(t, entity.ErrCancelled.Error(), got.ErrorMessage)

	recs, err := h.steps.ListByPipeline(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, entity.StepStatusSuccess, recs[1].Status)

	names := h.rec.events()
	assert.Equal(t, events.PipelineCancelled, names[len(names)-1])
	assert.False(t, h.runner.Cancel(p.ID))
	h.assertNoLeak(t)
}

func TestTimeoutEndsCancelled(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.ex.hooks[entity.StepClone] = func() { time.Sleep(60 * time.Millisecond) }
	p := h.pipeline(t)

	status, err := h.runner.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, entity.PipelineStatusCancelled, status)
	assert.Equal(t, []entity.Step{entity.StepClone}, h.ex.steps())
	assert.Equal(t, entity.ErrTimeout.Error(), h.reload(t, p.ID).ErrorMessage)
	h.assertNoLeak(t)
}

func TestLockBusyFailsImmediately(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.lock.DeploymentLock.TryAcquire(lock.OperationRollback, entity.NewID(9)))
	p := h.pipeline(t)

	err := h.runner.Start(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrLockBusy)
	h.runner.Wait()

	assert.Empty(t, h.ex.steps())
	got := h.reload(t, p.ID)
	assert.Equal(t, entity.PipelineStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "a rollback operation is already in progress (pipeline #9")
	assert.Equal(t, []events.Name{events.PipelineFailed}, h.rec.events())

	st := h.lock.Status()
	assert.True(t, st.Held)
	assert.Equal(t, lock.OperationRollback, st.Operation)
	assert.Equal(t, entity.NewID(9), st.OwnerID)
	assert.Equal(t, 0, h.lock.acquires)
	assert.Equal(t, 0, h.lock.releases)
}

func TestConcurrentStartsOnlyOneRuns(t *testing.T) {
	h := newHarness(t, time.Minute)
	proceed := make(chan struct{})
	h.ex.hooks[entity.StepClone] = func() { <-proceed }

	const n = 8
	ps := make([]*entity.Pipeline, n)
	for i := range ps {
		ps[i] = h.pipeline(t)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
		busy    int
	)
	for _, p := range ps {
		wg.Go(func() {
			err := h.runner.Start(context.Background(), p)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started++
			} else if errors.Is(err, entity.ErrLockBusy) {
				busy++
			}
		})
	}
	wg.Wait()
	close(proceed)
	h.runner.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, n-1, busy)
	h.assertNoLeak(t)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var cause error
	assert.True(t, r.Add(entity.NewID(2), func(err error) { cause = err }))
	assert.False(t, r.Add(entity.NewID(2), func(error) {}))
	assert.True(t, r.Add(entity.NewID(1), func(error) {}))
	assert.Equal(t, []entity.ID{entity.NewID(1), entity.NewID(2)}, r.IDs())

	assert.True(t, r.Cancel(entity.NewID(2), entity.ErrCancelled))
	assert.ErrorIs(t, cause, entity.ErrCancelled)
	r.Remove(entity.NewID(2))
	assert.False(t, r.Has(entity.NewID(2)))
	assert.False(t, r.Cancel(entity.NewID(2), entity.ErrCancelled))
}
