package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/events"
	"github.com/yz4230/shipyard/internal/lock"
	"github.com/yz4230/shipyard/internal/repository"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fakeRunner struct {
	started []*entity.Pipeline
	err     error
	running map[entity.ID]bool
}

func (f *fakeRunner) Start(_ context.Context, p *entity.Pipeline) error {
	f.started = append(f.started, p)
	if f.err != nil {
		p.Status = entity.PipelineStatusFailed
		p.ErrorMessage = f.err.Error()
		return f.err
	}
	p.Status = entity.PipelineStatusRunning
	return nil
}

func (f *fakeRunner) Cancel(id entity.ID) bool { return f.running[id] }

type repos struct {
	pipelines   repository.PipelineRepository
	steps       repository.StepRepository
	deployments repository.DeploymentRepository
}

func newRepos(t *testing.T) repos {
	t.Helper()
	db, err := repository.NewSQLiteDB(t.TempDir())
	require.NoError(t, err)
	return repos{
		pipelines:   repository.NewPipelineRepository(db),
		steps:       repository.NewStepRepository(db),
		deployments: repository.NewDeploymentRepository(db),
	}
}

func TestTriggerPipeline(t *testing.T) {
	r := newRepos(t)
	run := &fakeRunner{}
	rec := &recorder{}
	uc := &triggerPipelineUsecaseImpl{pipelineRepository: r.pipelines, runner: run, events: rec}

	got, err := uc.Execute(context.Background(), &entity.Pipeline{RepoURL: " https://github.com/acme/api.git "})
	require.NoError(t, err)

	assert.Equal(t, entity.PipelineStatusPending, got.Status)
	assert.Equal(t, "master", got.Branch)
	assert.Equal(t, "manual", got.TriggerType)
	assert.Equal(t, "https://github.com/acme/api.git", got.RepoURL)
	require.Len(t, run.started, 1)
	assert.NotSame(t, got, run.started[0])
	assert.Equal(t, got.ID, run.started[0].ID)

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.PipelineCreated, rec.events[0].Name)
	assert.Equal(t, got.ID, rec.events[0].PipelineID)
	assert.Equal(t, "manual", rec.events[0].Trigger)
}

func TestTriggerPipelineValidation(t *testing.T) {
	r := newRepos(t)
	run := &fakeRunner{}
	uc := &triggerPipelineUsecaseImpl{pipelineRepository: r.pipelines, runner: run, events: events.Discard}

	_, err := uc.Execute(context.Background(), &entity.Pipeline{Branch: "main"})
	assert.ErrorIs(t, err, entity.ErrInvalid)
	assert.Empty(t, run.started)

	list, err := r.pipelines.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTriggerPipelineLockBusy(t *testing.T) {
	r := newRepos(t)
	busy := &lock.BusyError{Operation: lock.OperationRollback, OwnerID: "7", Elapsed: 3 * time.Second}
	uc := &triggerPipelineUsecaseImpl{pipelineRepository: r.pipelines, runner: &fakeRunner{err: busy}, events: events.Discard}

	got, err := uc.Execute(context.Background(), &entity.Pipeline{RepoURL: "https://github.com/acme/api.git"})
	assert.ErrorIs(t, err, entity.ErrLockBusy)
	require.NotNil(t, got)
	assert.Equal(t, entity.PipelineStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "rollback operation is already in progress")
}

func TestCancelPipeline(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()

	running := &entity.Pipeline{RepoURL: "https://github.com/acme/api.git"}
	running.FillDefaults()
	running, err := r.pipelines.Create(ctx, running)
	require.NoError(t, err)

	done := &entity.Pipeline{RepoURL: "https://github.com/acme/api.git"}
	done.FillDefaults()
	done.Status = entity.PipelineStatusSuccess
	done, err = r.pipelines.Create(ctx, done)
	require.NoError(t, err)

	uc := &cancelPipelineUsecaseImpl{
		pipelineRepository: r.pipelines,
		runner:             &fakeRunner{running: map[entity.ID]bool{running.ID: true, done.ID: true}},
	}
	assert.NoError(t, uc.Execute(ctx, running.ID))
	assert.ErrorIs(t, uc.Execute(ctx, done.ID), entity.ErrConflict)
	assert.ErrorIs(t, uc.Execute(ctx, "404"), entity.ErrNotFound)

	uc.runner = &fakeRunner{}
	assert.ErrorIs(t, uc.Execute(ctx, running.ID), entity.ErrConflict)
}

func TestGetPipelineWithSteps(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	p := &entity.Pipeline{RepoURL: "https://github.com/acme/api.git"}
	p.FillDefaults()
	p, err := r.pipelines.Create(ctx, p)
	require.NoError(t, err)
	_, err = r.steps.Create(ctx, &entity.StepRecord{PipelineID: p.ID, Step: entity.StepClone, Status: entity.StepStatusSuccess, StartedAt: time.Now()})
	require.NoError(t, err)

	uc := &getPipelineUsecaseImpl{pipelineRepository: r.pipelines, stepRepository: r.steps}
	detail, err := uc.Execute(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, detail.Pipeline.ID)
	require.Len(t, detail.Steps, 1)
	assert.Equal(t, "Clone Repository", detail.Steps[0].Name)

	_, err = uc.Execute(ctx, "404")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestDeploymentHistoryReportsRolledBack(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()

	p := &entity.Pipeline{RepoURL: "https://github.com/acme/api.git", Branch: "main"}
	p.FillDefaults()
	p, err := r.pipelines.Create(ctx, p)
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	first, err := r.deployments.Create(ctx, &entity.Deployment{PipelineID: p.ID, DockerImage: "app:v1", Status: entity.DeploymentStatusSuccess, DeployedAt: base})
	require.NoError(t, err)
	second, err := r.deployments.Create(ctx, &entity.Deployment{PipelineID: p.ID, DockerImage: "app:v2", Status: entity.DeploymentStatusSuccess, DeployedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = r.deployments.RecordRollback(ctx, second.ID, &entity.Deployment{
		PipelineID:     p.ID,
		DockerImage:    first.DockerImage,
		Status:         entity.DeploymentStatusSuccess,
		IsRollback:     true,
		RolledBackFrom: &second.ID,
	})
	require.NoError(t, err)

	viewer := deploymentViewer{pipelineRepository: r.pipelines}
	history := &listDeploymentHistoryUsecaseImpl{deploymentRepository: r.deployments, viewer: viewer}
	views, err := history.Execute(ctx, 0)
	require.NoError(t, err)
	require.Len(t, views, 3)

	assert.True(t, views[0].IsRollback)
	assert.Equal(t, entity.DeploymentStatusSuccess, views[0].Status)
	assert.Equal(t, "app:v2", views[1].DockerImage)
	assert.Equal(t, entity.DeploymentStatusRolledBack, views[1].Status)
	assert.Equal(t, entity.DeploymentStatusSuccess, views[2].Status)
	for _, v := range views {
		assert.Equal(t, "main", v.Branch)
		assert.Equal(t, entity.PipelineStatusPending, v.PipelineStatus)
	}

	current := &getCurrentDeploymentUsecaseImpl{deploymentRepository: r.deployments, viewer: viewer}
	cur, err := current.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app:v1", cur.DockerImage)
	assert.True(t, cur.IsRollback)

	get := &getDeploymentUsecaseImpl{deploymentRepository: r.deployments, viewer: viewer}
	one, err := get.Execute(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DeploymentStatusRolledBack, one.Status)
}

func TestCurrentDeploymentBeforeFirstDeploy(t *testing.T) {
	r := newRepos(t)
	uc := &getCurrentDeploymentUsecaseImpl{deploymentRepository: r.deployments, viewer: deploymentViewer{pipelineRepository: r.pipelines}}
	_, err := uc.Execute(context.Background())
	assert.ErrorIs(t, err, entity.ErrNotFound)
}
