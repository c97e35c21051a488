package usecase

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/events"
	"github.com/yz4230/shipyard/internal/repository"
	"github.com/yz4230/shipyard/internal/runner"
)

// TriggerPipelineUsecase records a new pipeline and hands it to the runner.
// A busy deployment lock is returned together with the failed pipeline.
type TriggerPipelineUsecase interface {
	Execute(ctx context.Context, p *entity.Pipeline) (*entity.Pipeline, error)
}

type pipelineStarter interface {
	Start(ctx context.Context, p *entity.Pipeline) error
}

type triggerPipelineUsecaseImpl struct {
	pipelineRepository repository.PipelineRepository
	runner             pipelineStarter
	events             events.Publisher
}

// Execute implements TriggerPipelineUsecase.
func (t *triggerPipelineUsecaseImpl) Execute(ctx context.Context, p *entity.Pipeline) (*entity.Pipeline, error) {
	p.FillDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	created, err := t.pipelineRepository.Create(ctx, p)
	if err != nil {
		return nil, err
	}

	e := events.New(events.PipelineCreated, created.ID).WithStatus(created.Status)
	e.Trigger = created.TriggerType
	t.events.Publish(e)
	zerolog.Ctx(ctx).Info().
		Str("pipeline_id", created.ID.String()).
		Str("repo", created.RepoURL).
		Str("branch", created.Branch).
		Str("trigger", created.TriggerType).
		Msg("pipeline created")

	// The runner owns created from here on.
	view := *created
	if err := t.runner.Start(ctx, created); err != nil {
		return created, err
	}
	return &view, nil
}

func NewTriggerPipelineUsecase(injector *do.Injector) (TriggerPipelineUsecase, error) {
	return &triggerPipelineUsecaseImpl{
		pipelineRepository: do.MustInvoke[repository.PipelineRepository](injector),
		runner:             do.MustInvoke[*runner.Runner](injector),
		events:             do.MustInvoke[events.Publisher](injector),
	}, nil
}
