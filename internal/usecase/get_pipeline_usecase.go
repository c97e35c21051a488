package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/repository"
)

// PipelineDetail is a pipeline with its step log.
type PipelineDetail struct {
	Pipeline *entity.Pipeline     `json:"pipeline"`
	Steps    []*entity.StepRecord `json:"logs"`
}

type GetPipelineUsecase interface {
	Execute(ctx context.Context, id entity.ID) (*PipelineDetail, error)
}

type getPipelineUsecaseImpl struct {
	pipelineRepository repository.PipelineRepository
	stepRepository     repository.StepRepository
}

// Execute implements GetPipelineUsecase.
func (g *getPipelineUsecaseImpl) Execute(ctx context.Context, id entity.ID) (*PipelineDetail, error) {
	p, err := g.pipelineRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := g.stepRepository.ListByPipeline(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PipelineDetail{Pipeline: p, Steps: steps}, nil
}

func NewGetPipelineUsecase(injector *do.Injector) (GetPipelineUsecase, error) {
	return &getPipelineUsecaseImpl{
		pipelineRepository: do.MustInvoke[repository.PipelineRepository](injector),
		stepRepository:     do.MustInvoke[repository.StepRepository](injector),
	}, nil
}
