// Package rollback switches production back to an earlier validated image.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/events"
	"github.com/yz4230/shipyard/internal/healthcheck"
	"github.com/yz4230/shipyard/internal/lock"
	"github.com/yz4230/shipyard/internal/remote"
	"github.com/yz4230/shipyard/internal/repository"
)

var rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shipyard",
	Name:      "rollbacks_total",
	Help:      "Rollbacks by outcome.",
}, []string{"outcome"})

// SelectTarget picks the current deployment and the one to go back to.
// deployments must be ordered newest first. The current deployment is the
// newest success that has not been rolled back; the target is the newest
// other success that is not itself a rollback.
func SelectTarget(deployments []*entity.Deployment) (current, target *entity.Deployment, err error) {
	for _, d := range deployments {
		if d.IsActive() {
			current = d
			break
		}
	}
	if current == nil {
		return nil, nil, fmt.Errorf("%w: nothing is deployed", entity.ErrNoRollbackTarget)
	}
	for _, d := range deployments {
		if d.ID == current.ID || d.Status != entity.DeploymentStatusSuccess || d.IsRollback {
			continue
		}
		return current, d, nil
	}
	return current, nil, fmt.Errorf("%w: no earlier deployment to roll back to", entity.ErrNoRollbackTarget)
}

// Locker is the part of lock.DeploymentLock a rollback uses.
type Locker interface {
	TryAcquire(op lock.Operation, owner entity.ID) error
	Release()
}

type Options struct {
	Lock        Locker
	Deployments repository.DeploymentRepository
	Deployer    remote.Deployer
	Events      events.Publisher
	Health      healthcheck.Policy
	Log         zerolog.Logger
}

func DefaultHealthPolicy() healthcheck.Policy {
	return healthcheck.Policy{Interval: 10 * time.Second, Attempts: 9}
}

type Coordinator struct {
	lock        Locker
	deployments repository.DeploymentRepository
	deployer    remote.Deployer
	events      events.Publisher
	health      healthcheck.Policy
	sleep       healthcheck.SleepFunc
	log         zerolog.Logger
}

func New(opts Options) *Coordinator {
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.Health.Attempts <= 0 {
		opts.Health = DefaultHealthPolicy()
	}
	return &Coordinator{
		lock:        opts.Lock,
		deployments: opts.Deployments,
		deployer:    opts.Deployer,
		events:      opts.Events,
		health:      opts.Health,
		sleep:       healthcheck.Sleep,
		log:         opts.Log,
	}
}

// Preview reports what Rollback would switch between without touching anything.
func (c *Coordinator) Preview(ctx context.Context) (current, target *entity.Deployment, err error) {
	deployments, err := c.deployments.ListSuccessful(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SelectTarget(deployments)
}

// Rollback restores the previous forward deployment on behalf of runID.
func (c *Coordinator) Rollback(ctx context.Context, runID entity.ID) (*entity.Deployment, error) {
	log := c.log.With().Str("pipeline_id", runID.String()).Logger()
	ctx = log.WithContext(ctx)

	_, target, err := c.selectValid(ctx)
	if err == nil {
		err = c.lock.TryAcquire(lock.OperationRollback, runID)
	}
	if err != nil {
		c.failed(ctx, runID, err)
		return nil, err
	}

	dep, err := func() (*entity.Deployment, error) {
		defer c.lock.Release()
		// A pipeline may have finished between the first look and the acquire.
		current, locked, err := c.selectValid(ctx)
		if err != nil {
			return nil, err
		}
		if locked.ID != target.ID {
			log.Info().Str("was", target.DockerImage).Str("now", locked.DockerImage).Msg("rollback target changed before lock was taken")
		}
		target = locked
		c.events.Publish(events.New(events.RollbackStarted, runID).WithVersion(target.DockerImage))
		log.Info().Str("from", current.DockerImage).Str("to", target.DockerImage).Msg("rollback started")
		return c.switchTo(ctx, current, target)
	}()
	if err != nil {
		c.failed(ctx, runID, err)
		return nil, err
	}

	rollbacksTotal.WithLabelValues("success").Inc()
	c.events.Publish(events.New(events.RollbackCompleted, runID).WithVersion(target.DockerImage))
	log.Info().Str("image", target.DockerImage).Msg("rollback completed")
	return dep, nil
}

// selectValid picks current and target and rejects an unsafe target image
// before anything reaches the remote host.
func (c *Coordinator) selectValid(ctx context.Context) (current, target *entity.Deployment, err error) {
	current, target, err = c.Preview(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := remote.ValidateImage(target.DockerImage); err != nil {
		return nil, nil, err
	}
	return current, target, nil
}

func (c *Coordinator) switchTo(ctx context.Context, current, target *entity.Deployment) (*entity.Deployment, error) {
	log := zerolog.Ctx(ctx)
	image := target.DockerImage

	ok, err := c.deployer.ImageExists(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("check image %s: %w", image, err)
	}
	if !ok {
		return nil, fmt.Errorf("image %s is not present on the host: %w", image, entity.ErrNotFound)
	}
	if _, err := c.deployer.Rollback(ctx, image); err != nil {
		return nil, err
	}

	_, err = healthcheck.Wait(ctx, c.health, c.deployer.HealthCheck, c.sleep)
	if err != nil {
		if !errors.Is(err, entity.ErrHealthCheckExhausted) {
			return nil, err
		}
		status, statusErr := c.deployer.ContainerStatus(ctx)
		if statusErr != nil || !remote.IsAbsent(status) {
			return nil, fmt.Errorf("health check failed after rollback: %w", err)
		}
		log.Warn().Str("status", status).Msg("container not running after rollback, treating as intentional")
	}

	from := current.ID
	dep, err := c.deployments.RecordRollback(context.WithoutCancel(ctx), current.ID, &entity.Deployment{
		PipelineID:     target.PipelineID,
		DockerImage:    image,
		CommitHash:     target.CommitHash,
		CommitMessage:  target.CommitMessage,
		Status:         entity.DeploymentStatusSuccess,
		IsRollback:     true,
		RolledBackFrom: &from,
	})
	if err != nil {
		return nil, fmt.Errorf("record rollback: %w", err)
	}
	return dep, nil
}

func (c *Coordinator) failed(ctx context.Context, runID entity.ID, err error) {
	rollbacksTotal.WithLabelValues("failed").Inc()
	c.events.Publish(events.New(events.RollbackFailed, runID).WithError(err))
	zerolog.Ctx(ctx).Warn().Err(err).Msg("rollback failed")
}
