package repository

import (
	"context"

	"github.com/yz4230/shipyard/internal/entity"
	"gorm.io/gorm"
)

type StepRepository interface {
	Create(ctx context.Context, rec *entity.StepRecord) (*entity.StepRecord, error)
	Update(ctx context.Context, rec *entity.StepRecord) error
	ListByPipeline(ctx context.Context, pipelineID entity.ID) ([]*entity.StepRecord, error)
}

type stepRepositoryImpl struct {
	db *gorm.DB
}

func NewStepRepository(db *gorm.DB) StepRepository {
	return &stepRepositoryImpl{db: db}
}

func (r *stepRepositoryImpl) Create(ctx context.Context, rec *entity.StepRecord) (*entity.StepRecord, error) {
	var model StepLog
	model.FromEntity(rec)
	if err := gorm.G[StepLog](r.db).Create(ctx, &model); err != nil {
		return nil, translate(err)
	}
	return model.ToEntity(), nil
}

func (r *stepRepositoryImpl) Update(ctx context.Context, rec *entity.StepRecord) error {
	var model StepLog
	model.FromEntity(rec)
	_, err := gorm.G[StepLog](r.db).Where("id = ?", rec.ID.Uint()).Updates(ctx, model)
	return translate(err)
}

// ListByPipeline returns the steps of a pipeline in execution order.
func (r *stepRepositoryImpl) ListByPipeline(ctx context.Context, pipelineID entity.ID) ([]*entity.StepRecord, error) {
	founds, err := gorm.G[StepLog](r.db).Where("pipeline_id = ?", pipelineID.Uint()).Order("started_at, id").Find(ctx)
	if err != nil {
		return nil, translate(err)
	}
	res := make([]*entity.StepRecord, len(founds))
	for i, f := range founds {
		res[i] = f.ToEntity()
	}
	return res, nil
}
