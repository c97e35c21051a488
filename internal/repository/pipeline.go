package repository

import (
	"context"

	"github.com/yz4230/shipyard/internal/entity"
	"gorm.io/gorm"
)

type PipelineRepository interface {
	Create(ctx context.Context, p *entity.Pipeline) (*entity.Pipeline, error)
	GetByID(ctx context.Context, id entity.ID) (*entity.Pipeline, error)
	List(ctx context.Context, limit int) ([]*entity.Pipeline, error)
	Update(ctx context.Context, p *entity.Pipeline) (*entity.Pipeline, error)
}

type pipelineRepositoryImpl struct {
	db *gorm.DB
}

func NewPipelineRepository(db *gorm.DB) PipelineRepository {
	return &pipelineRepositoryImpl{db: db}
}

// Create inserts a new pipeline record.
func (r *pipelineRepositoryImpl) Create(ctx context.Context, p *entity.Pipeline) (*entity.Pipeline, error) {
	var model Pipeline
	model.FromEntity(p)
	if err := gorm.G[Pipeline](r.db).Create(ctx, &model); err != nil {
		return nil, translate(err)
	}
	return model.ToEntity(), nil
}

// GetByID finds a pipeline by id.
func (r *pipelineRepositoryImpl) GetByID(ctx context.Context, id entity.ID) (*entity.Pipeline, error) {
	found, err := gorm.G[Pipeline](r.db).Where("id = ?", id.Uint()).First(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return found.ToEntity(), nil
}

// List returns the newest pipelines first.
func (r *pipelineRepositoryImpl) List(ctx context.Context, limit int) ([]*entity.Pipeline, error) {
	founds, err := gorm.G[Pipeline](r.db).Order("created_at desc, id desc").Limit(limit).Find(ctx)
	if err != nil {
		return nil, translate(err)
	}
	res := make([]*entity.Pipeline, len(founds))
	for i, f := range founds {
		res[i] = f.ToEntity()
	}
	return res, nil
}

// Update writes the non-zero fields of p.
func (r *pipelineRepositoryImpl) Update(ctx context.Context, p *entity.Pipeline) (*entity.Pipeline, error) {
	var model Pipeline
	model.FromEntity(p)
	if _, err := gorm.G[Pipeline](r.db).Where("id = ?", p.ID.Uint()).Updates(ctx, model); err != nil {
		return nil, translate(err)
	}
	return r.GetByID(ctx, p.ID)
}
