package repository

import (
	"context"
	"time"

	"github.com/yz4230/shipyard/internal/entity"
	"gorm.io/gorm"
)

type DeploymentRepository interface {
	Create(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error)
	GetByID(ctx context.Context, id entity.ID) (*entity.Deployment, error)
	List(ctx context.Context, limit int) ([]*entity.Deployment, error)
	ListSuccessful(ctx context.Context) ([]*entity.Deployment, error)
	Current(ctx context.Context) (*entity.Deployment, error)
	RecordDeployment(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error)
	RecordRollback(ctx context.Context, supersededID entity.ID, dep *entity.Deployment) (*entity.Deployment, error)
}

type deploymentRepositoryImpl struct {
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepositoryImpl{db: db}
}

const newestFirst = "deployed_at desc, id desc"

// Create a new deployment record.
func (r *deploymentRepositoryImpl) Create(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error) {
	var model Deployment
	model.FromEntity(dep)
	if model.DeployedAt.IsZero() {
		model.DeployedAt = time.Now()
	}
	if err := gorm.G[Deployment](r.db).Create(ctx, &model); err != nil {
		return nil, translate(err)
	}
	return model.ToEntity(), nil
}

// GetByID finds deployment by id.
func (r *deploymentRepositoryImpl) GetByID(ctx context.Context, id entity.ID) (*entity.Deployment, error) {
	found, err := gorm.G[Deployment](r.db).Where("id = ?", id.Uint()).First(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return found.ToEntity(), nil
}

// List returns up to limit deployments, newest first.
func (r *deploymentRepositoryImpl) List(ctx context.Context, limit int) ([]*entity.Deployment, error) {
	founds, err := gorm.G[Deployment](r.db).Order(newestFirst).Limit(limit).Find(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return toDeployments(founds), nil
}

// ListSuccessful returns every successful deployment, newest first.
func (r *deploymentRepositoryImpl) ListSuccessful(ctx context.Context) ([]*entity.Deployment, error) {
	founds, err := gorm.G[Deployment](r.db).
		Where("status = ?", string(entity.DeploymentStatusSuccess)).
		Order(newestFirst).
		Find(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return toDeployments(founds), nil
}

// Current returns the deployment running in production.
func (r *deploymentRepositoryImpl) Current(ctx context.Context) (*entity.Deployment, error) {
	found, err := gorm.G[Deployment](r.db).
		Where("status = ? AND rolled_back_at IS NULL", string(entity.DeploymentStatusSuccess)).
		Order(newestFirst).
		First(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return found.ToEntity(), nil
}

// RecordDeployment appends a forward deployment. A successful one
// supersedes whatever was active, in the same transaction.
func (r *deploymentRepositoryImpl) RecordDeployment(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error) {
	var model Deployment
	model.FromEntity(dep)
	if model.DeployedAt.IsZero() {
		model.DeployedAt = time.Now()
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if dep.Status == entity.DeploymentStatusSuccess {
			res := tx.Model(&Deployment{}).
				Where("status = ? AND rolled_back_at IS NULL", string(entity.DeploymentStatusSuccess)).
				Update("rolled_back_at", model.DeployedAt)
			if res.Error != nil {
				return res.Error
			}
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return model.ToEntity(), nil
}

// RecordRollback marks supersededID as rolled back and appends dep, atomically.
func (r *deploymentRepositoryImpl) RecordRollback(ctx context.Context, supersededID entity.ID, dep *entity.Deployment) (*entity.Deployment, error) {
	var model Deployment
	model.FromEntity(dep)
	if model.DeployedAt.IsZero() {
		model.DeployedAt = time.Now()
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !supersededID.IsZero() {
			res := tx.Model(&Deployment{}).
				Where("id = ? AND rolled_back_at IS NULL", supersededID.Uint()).
				Update("rolled_back_at", model.DeployedAt)
			if res.Error != nil {
				return res.Error
			}
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return model.ToEntity(), nil
}

func toDeployments(models []Deployment) []*entity.Deployment {
	res := make([]*entity.Deployment, len(models))
	for i, m := range models {
		res[i] = m.ToEntity()
	}
	return res
}
