// Package runner owns the pipeline state machine.
package runner

import (
	"cmp"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/events"
	"github.com/yz4230/shipyard/internal/executor"
	"github.com/yz4230/shipyard/internal/lock"
	"github.com/yz4230/shipyard/internal/remote"
	"github.com/yz4230/shipyard/internal/repository"
)

// Locker is the part of lock.DeploymentLock the runner uses.
type Locker interface {
	TryAcquire(op lock.Operation, owner entity.ID) error
	Release()
}

const DefaultTimeout = 15 * time.Minute

type Options struct {
	Lock        Locker
	Executor    executor.Executor
	Pipelines   repository.PipelineRepository
	Steps       repository.StepRepository
	Deployments repository.DeploymentRepository
	Events      events.Publisher
	// App is the image name deployments are recorded under.
	App     string
	Timeout time.Duration
	Log     zerolog.Logger
}

type Runner struct {
	lock        Locker
	ex          executor.Executor
	pipelines   repository.PipelineRepository
	steps       repository.StepRepository
	deployments repository.DeploymentRepository
	events      events.Publisher
	app         string
	timeout     time.Duration
	registry    *Registry
	log         zerolog.Logger
	now         func() time.Time

	wg sync.WaitGroup
}

func New(opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	return &Runner{
		lock:        opts.Lock,
		ex:          opts.Executor,
		pipelines:   opts.Pipelines,
		steps:       opts.Steps,
		deployments: opts.Deployments,
		events:      opts.Events,
		app:         opts.App,
		timeout:     opts.Timeout,
		registry:    NewRegistry(),
		log:         opts.Log,
		now:         time.Now,
	}
}

// Start takes the deployment lock and runs p in the background. A busy lock
// fails p immediately and is returned to the caller.
func (r *Runner) Start(ctx context.Context, p *entity.Pipeline) error {
	runCtx, cancel, err := r.begin(ctx, p)
	if err != nil {
		return err
	}
	r.wg.Go(func() { r.execute(runCtx, cancel, p) })
	return nil
}

// Run is Start without the goroutine: it returns once p is terminal.
func (r *Runner) Run(ctx context.Context, p *entity.Pipeline) (entity.PipelineStatus, error) {
	runCtx, cancel, err := r.begin(ctx, p)
	if err != nil {
		return p.Status, err
	}
	r.execute(runCtx, cancel, p)
	return p.Status, nil
}

// begin acquires the lock and registers the run. The run context outlives
// ctx: only Cancel and the deadline stop a run.
func (r *Runner) begin(ctx context.Context, p *entity.Pipeline) (context.Context, context.CancelCauseFunc, error) {
	if err := r.lock.TryAcquire(lock.OperationPipeline, p.ID); err != nil {
		r.reject(ctx, p, err)
		return nil, nil, err
	}
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	if !r.registry.Add(p.ID, cancel) {
		r.lock.Release()
		cancel(nil)
		err := fmt.Errorf("pipeline #%s: %w", p.ID, entity.ErrConflict)
		r.reject(ctx, p, err)
		return nil, nil, err
	}
	return runCtx, cancel, nil
}

// reject fails a pipeline that never got to run.
func (r *Runner) reject(ctx context.Context, p *entity.Pipeline, cause error) {
	now := r.now()
	p.Status = entity.PipelineStatusFailed
	p.ErrorMessage = cause.Error()
	p.CompletedAt = &now
	r.persist(ctx, p)
	runsTotal.WithLabelValues(string(p.Status)).Inc()
	r.events.Publish(events.New(events.PipelineFailed, p.ID).WithError(cause).WithStatus(p.Status))
	r.log.Warn().Err(cause).Str("pipeline_id", p.ID.String()).Msg("pipeline rejected")
}

func (r *Runner) execute(ctx context.Context, cancel context.CancelCauseFunc, p *entity.Pipeline) {
	defer cancel(nil)
	log := r.log.With().Str("pipeline_id", p.ID.String()).Logger()
	ctx = log.WithContext(ctx)

	ctx, stop := context.WithTimeoutCause(ctx, r.timeout, entity.ErrTimeout)
	defer stop()

	started := r.now()
	p.Status = entity.PipelineStatusRunning
	p.StartedAt = &started
	r.persist(ctx, p)
	e := events.New(events.PipelineStarted, p.ID).WithStatus(p.Status)
	e.Trigger = p.TriggerType
	r.events.Publish(e)
	log.Info().Str("repo", p.RepoURL).Str("branch", p.Branch).Str("trigger", p.TriggerType).Msg("pipeline started")

	status, err := r.runSteps(ctx, p)
	r.finish(ctx, p, status, err)
}

// runSteps returns the terminal status. Cancellation and the deadline are
// only looked at between steps.
func (r *Runner) runSteps(ctx context.Context, p *entity.Pipeline) (status entity.PipelineStatus, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			status, err = entity.PipelineStatusFailed, fmt.Errorf("%w: panic: %v", entity.ErrInternal, rec)
		}
	}()

	for _, step := range entity.Steps {
		if ctx.Err() != nil {
			return entity.PipelineStatusCancelled, context.Cause(ctx)
		}
		if err := r.runStep(ctx, p, step); err != nil {
			return entity.PipelineStatusFailed, err
		}
	}

	_, err = r.deployments.RecordDeployment(context.WithoutCancel(ctx), &entity.Deployment{
		PipelineID:    p.ID,
		DockerImage:   remote.ImageRef(r.app, p.ImageTag()),
		CommitHash:    p.CommitHash,
		CommitMessage: p.CommitMessage,
		Status:        entity.DeploymentStatusSuccess,
	})
	if err != nil {
		return entity.PipelineStatusFailed, fmt.Errorf("record deployment: %w", err)
	}
	return entity.PipelineStatusSuccess, nil
}

func (r *Runner) runStep(ctx context.Context, p *entity.Pipeline, step entity.Step) error {
	log := zerolog.Ctx(ctx)
	started := r.now()
	rec, err := r.steps.Create(context.WithoutCancel(ctx), &entity.StepRecord{
		PipelineID: p.ID,
		Step:       step,
		Status:     entity.StepStatusRunning,
		StartedAt:  started,
	})
	if err != nil {
		return fmt.Errorf("record step %s: %w", step, err)
	}
	r.events.Publish(events.New(events.StepStarted, p.ID).WithStep(step))
	log.Info().Str("step", step.String()).Msg("step started")

	// A step in flight is never interrupted by Cancel or the deadline.
	res, err := r.safeRun(context.WithoutCancel(ctx), step, p)

	completed := r.now()
	rec.CompletedAt = &completed
	stepDuration.WithLabelValues(step.String(), string(statusOf(err))).Observe(completed.Sub(started).Seconds())
	if err != nil {
		rec.Status = entity.StepStatusFailed
		rec.Output = err.Error()
		r.updateStep(ctx, rec)
		r.events.Publish(events.New(events.StepFailed, p.ID).WithStep(step).WithError(err))
		log.Warn().Err(err).Str("step", step.String()).Msg("step failed")
		return err
	}

	rec.Status = entity.StepStatusSuccess
	rec.Output = res.Output
	r.updateStep(ctx, rec)
	if res.Analysis != nil || res.Security != nil {
		p.Analysis = cmp.Or(res.Analysis, p.Analysis)
		p.Security = cmp.Or(res.Security, p.Security)
		r.persist(ctx, p)
	}
	r.events.Publish(events.New(events.StepCompleted, p.ID).WithStep(step).WithOutput(res.Output))
	log.Info().Str("step", step.String()).Dur("took", completed.Sub(started)).Msg("step completed")
	return nil
}

func (r *Runner) safeRun(ctx context.Context, step entity.Step, p *entity.Pipeline) (res *executor.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, &executor.StepError{Step: step, Err: fmt.Errorf("%w: panic: %v", entity.ErrInternal, rec)}
		}
	}()
	return executor.Run(ctx, r.ex, step, p)
}

// finish releases the lock and deregisters before the terminal status is
// written, so nobody sees a terminal pipeline with the lock still held.
func (r *Runner) finish(ctx context.Context, p *entity.Pipeline, status entity.PipelineStatus, cause error) {
	r.lock.Release()
	r.registry.Remove(p.ID)

	ctx = context.WithoutCancel(ctx)
	log := zerolog.Ctx(ctx)
	now := r.now()
	p.Status = status
	p.CompletedAt = &now
	if cause != nil {
		p.ErrorMessage = cause.Error()
	}
	r.persist(ctx, p)

	var name events.Name
	switch status {
	case entity.PipelineStatusSuccess:
		name = events.PipelineCompleted
	case entity.PipelineStatusCancelled:
		name = events.PipelineCancelled
	default:
		name = events.PipelineFailed
	}
	e := events.New(name, p.ID).WithStatus(status).WithError(cause)
	if status == entity.PipelineStatusSuccess {
		e = e.WithVersion(remote.ImageRef(r.app, p.ImageTag()))
	}
	r.events.Publish(e)

	runsTotal.WithLabelValues(string(status)).Inc()
	if p.StartedAt != nil {
		runDuration.Observe(now.Sub(*p.StartedAt).Seconds())
	}
	ev := log.Info()
	if status != entity.PipelineStatusSuccess {
		ev = log.Warn().Err(cause)
	}
	ev.Str("status", string(status)).Msg("pipeline finished")

	if c, ok := r.ex.(executor.Cleaner); ok {
		if err := c.Cleanup(ctx, p); err != nil {
			log.Warn().Err(err).Msg("failed to clean up pipeline workspace")
		}
	}
}

func (r *Runner) persist(ctx context.Context, p *entity.Pipeline) {
	if _, err := r.pipelines.Update(context.WithoutCancel(ctx), p); err != nil {
		r.log.Error().Err(err).Str("pipeline_id", p.ID.String()).Msg("failed to persist pipeline")
	}
}

func (r *Runner) updateStep(ctx context.Context, rec *entity.StepRecord) {
	if err := r.steps.Update(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Error().Err(err).Str("pipeline_id", rec.PipelineID.String()).Str("step", rec.Name).Msg("failed to persist step")
	}
}

// Cancel asks a running pipeline to stop before its next step.
func (r *Runner) Cancel(id entity.ID) bool {
	ok := r.registry.Cancel(id, entity.ErrCancelled)
	if ok {
		r.log.Info().Str("pipeline_id", id.String()).Msg("pipeline cancellation requested")
	}
	return ok
}

func (r *Runner) Running() []entity.ID { return r.registry.IDs() }

func (r *Runner) IsRunning(id entity.ID) bool { return r.registry.Has(id) }

// Wait blocks until every background run has finished.
func (r *Runner) Wait() { r.wg.Wait() }

func statusOf(err error) entity.StepStatus {
	if err != nil {
		return entity.StepStatusFailed
	}
	return entity.StepStatusSuccess
}
