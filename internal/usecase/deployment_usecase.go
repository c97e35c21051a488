package usecase

import (
	"context"
	"errors"

	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/repository"
)

// DeploymentView is a deployment joined with the pipeline that produced it.
// Status reports rolled_back for superseded rows.
type DeploymentView struct {
	*entity.Deployment
	Status         entity.DeploymentStatus `json:"status"`
	Branch         string                  `json:"branch,omitempty"`
	RepoURL        string                  `json:"repo_url,omitempty"`
	PipelineStatus entity.PipelineStatus   `json:"pipeline_status,omitempty"`
}

type deploymentViewer struct {
	pipelineRepository repository.PipelineRepository
}

// views joins each deployment with its pipeline. Missing pipelines are left blank.
func (v deploymentViewer) views(ctx context.Context, deps []*entity.Deployment) ([]*DeploymentView, error) {
	pipelines := make(map[entity.ID]*entity.Pipeline)
	res := make([]*DeploymentView, len(deps))
	for i, d := range deps {
		view := &DeploymentView{Deployment: d, Status: d.DisplayStatus()}
		p, ok := pipelines[d.PipelineID]
		if !ok {
			var err error
			p, err = v.pipelineRepository.GetByID(ctx, d.PipelineID)
			if err != nil && !errors.Is(err, entity.ErrNotFound) {
				return nil, err
			}
			pipelines[d.PipelineID] = p
		}
		if p != nil {
			view.Branch = p.Branch
			view.RepoURL = p.RepoURL
			view.PipelineStatus = p.Status
		}
		res[i] = view
	}
	return res, nil
}

// GetCurrentDeploymentUsecase returns what runs in production, or
// entity.ErrNotFound before the first deployment.
type GetCurrentDeploymentUsecase interface {
	Execute(ctx context.Context) (*DeploymentView, error)
}

type getCurrentDeploymentUsecaseImpl struct {
	deploymentRepository repository.DeploymentRepository
	viewer               deploymentViewer
}

// Execute implements GetCurrentDeploymentUsecase.
func (g *getCurrentDeploymentUsecaseImpl) Execute(ctx context.Context) (*DeploymentView, error) {
	d, err := g.deploymentRepository.Current(ctx)
	if err != nil {
		return nil, err
	}
	views, err := g.viewer.views(ctx, []*entity.Deployment{d})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func NewGetCurrentDeploymentUsecase(injector *do.Injector) (GetCurrentDeploymentUsecase, error) {
	return &getCurrentDeploymentUsecaseImpl{
		deploymentRepository: do.MustInvoke[repository.DeploymentRepository](injector),
		viewer:               deploymentViewer{pipelineRepository: do.MustInvoke[repository.PipelineRepository](injector)},
	}, nil
}

const DefaultHistoryLimit = 10

type ListDeploymentHistoryUsecase interface {
	Execute(ctx context.Context, limit int) ([]*DeploymentView, error)
}

type listDeploymentHistoryUsecaseImpl struct {
	deploymentRepository repository.DeploymentRepository
	viewer               deploymentViewer
}

// Execute implements ListDeploymentHistoryUsecase.
func (l *listDeploymentHistoryUsecaseImpl) Execute(ctx context.Context, limit int) ([]*DeploymentView, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	deps, err := l.deploymentRepository.List(ctx, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return l.viewer.views(ctx, deps)
}

func NewListDeploymentHistoryUsecase(injector *do.Injector) (ListDeploymentHistoryUsecase, error) {
	return &listDeploymentHistoryUsecaseImpl{
		deploymentRepository: do.MustInvoke[repository.DeploymentRepository](injector),
		viewer:               deploymentViewer{pipelineRepository: do.MustInvoke[repository.PipelineRepository](injector)},
	}, nil
}

type GetDeploymentUsecase interface {
	Execute(ctx context.Context, id entity.ID) (*DeploymentView, error)
}

type getDeploymentUsecaseImpl struct {
	deploymentRepository repository.DeploymentRepository
	viewer               deploymentViewer
}

// Execute implements GetDeploymentUsecase.
func (g *getDeploymentUsecaseImpl) Execute(ctx context.Context, id entity.ID) (*DeploymentView, error) {
	d, err := g.deploymentRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	views, err := g.viewer.views(ctx, []*entity.Deployment{d})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func NewGetDeploymentUsecase(injector *do.Injector) (GetDeploymentUsecase, error) {
	return &getDeploymentUsecaseImpl{
		deploymentRepository: do.MustInvoke[repository.DeploymentRepository](injector),
		viewer:               deploymentViewer{pipelineRepository: do.MustInvoke[repository.PipelineRepository](injector)},
	}, nil
}
