package usecase

import (
	"context"
	"fmt"

	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/repository"
	"github.com/yz4230/shipyard/internal/runner"
)

// CancelPipelineUsecase asks a running pipeline to stop before its next step.
type CancelPipelineUsecase interface {
	Execute(ctx context.Context, id entity.ID) error
}

type pipelineCanceller interface {
	Cancel(id entity.ID) bool
}

type cancelPipelineUsecaseImpl struct {
	pipelineRepository repository.PipelineRepository
	runner             pipelineCanceller
}

// Execute implements CancelPipelineUsecase.
func (c *cancelPipelineUsecaseImpl) Execute(ctx context.Context, id entity.ID) error {
	p, err := c.pipelineRepository.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() || !c.runner.Cancel(id) {
		return fmt.Errorf("pipeline #%s is %s: %w", id, p.Status, entity.ErrConflict)
	}
	return nil
}

func NewCancelPipelineUsecase(injector *do.Injector) (CancelPipelineUsecase, error) {
	return &cancelPipelineUsecaseImpl{
		pipelineRepository: do.MustInvoke[repository.PipelineRepository](injector),
		runner:             do.MustInvoke[*runner.Runner](injector),
	}, nil
}
