package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/repository"
	"github.com/yz4230/shipyard/internal/rollback"
)

// RollbackPipelineUsecase restores the previous deployment on behalf of a
// pipeline. It blocks until the switch and its health checks are done.
type RollbackPipelineUsecase interface {
	Execute(ctx context.Context, id entity.ID) (*entity.Deployment, error)
}

type rollbacker interface {
	Rollback(ctx context.Context, runID entity.ID) (*entity.Deployment, error)
}

type rollbackPipelineUsecaseImpl struct {
	pipelineRepository repository.PipelineRepository
	coordinator        rollbacker
}

// Execute implements RollbackPipelineUsecase.
func (r *rollbackPipelineUsecaseImpl) Execute(ctx context.Context, id entity.ID) (*entity.Deployment, error) {
	if _, err := r.pipelineRepository.GetByID(ctx, id); err != nil {
		return nil, err
	}
	// The switch outlives the request.
	return r.coordinator.Rollback(context.WithoutCancel(ctx), id)
}

func NewRollbackPipelineUsecase(injector *do.Injector) (RollbackPipelineUsecase, error) {
	return &rollbackPipelineUsecaseImpl{
		pipelineRepository: do.MustInvoke[repository.PipelineRepository](injector),
		coordinator:        do.MustInvoke[*rollback.Coordinator](injector),
	}, nil
}

// RollbackPlan is what a rollback would switch between.
type RollbackPlan struct {
	Current *entity.Deployment `json:"current"`
	Target  *entity.Deployment `json:"target"`
}

type PreviewRollbackUsecase interface {
	Execute(ctx context.Context) (*RollbackPlan, error)
}

type rollbackPreviewer interface {
	Preview(ctx context.Context) (current, target *entity.Deployment, err error)
}

type previewRollbackUsecaseImpl struct {
	coordinator rollbackPreviewer
}

// Execute implements PreviewRollbackUsecase.
func (p *previewRollbackUsecaseImpl) Execute(ctx context.Context) (*RollbackPlan, error) {
	current, target, err := p.coordinator.Preview(ctx)
	if err != nil {
		return nil, err
	}
	return &RollbackPlan{Current: current, Target: target}, nil
}

func NewPreviewRollbackUsecase(injector *do.Injector) (PreviewRollbackUsecase, error) {
	return &previewRollbackUsecaseImpl{
		coordinator: do.MustInvoke[*rollback.Coordinator](injector),
	}, nil
}
