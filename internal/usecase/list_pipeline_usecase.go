package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/repository"
)

const DefaultListLimit = 50

type ListPipelineUsecase interface {
	Execute(ctx context.Context, limit int) ([]*entity.Pipeline, error)
}

type listPipelineUsecaseImpl struct {
	pipelineRepository repository.PipelineRepository
}

// Execute implements ListPipelineUsecase.
func (l *listPipelineUsecaseImpl) Execute(ctx context.Context, limit int) ([]*entity.Pipeline, error) {
	return l.pipelineRepository.List(ctx, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}

func NewListPipelineUsecase(injector *do.Injector) (ListPipelineUsecase, error) {
	return &listPipelineUsecaseImpl{
		pipelineRepository: do.MustInvoke[repository.PipelineRepository](injector),
	}, nil
}
