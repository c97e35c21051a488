package repository

import (
	"time"

	"github.com/yz4230/shipyard/internal/entity"
	"gorm.io/gorm"
)

type Pipeline struct {
	gorm.Model
	RepoURL       string
	Branch        string
	CommitHash    string
	CommitMessage string
	TriggerType   string
	Status        string `gorm:"index"`
	ErrorMessage  string
	Analysis      *entity.AnalysisSummary `gorm:"serializer:json"`
	Security      *entity.SecuritySummary `gorm:"serializer:json"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

func (p *Pipeline) ToEntity() *entity.Pipeline {
	return &entity.Pipeline{
		ID:            entity.NewID(p.ID),
		RepoURL:       p.RepoURL,
		Branch:        p.Branch,
		CommitHash:    p.CommitHash,
		CommitMessage: p.CommitMessage,
		Trigger:       entity.ParseTrigger(p.TriggerType),
		TriggerType:   p.TriggerType,
		Status:        entity.PipelineStatus(p.Status),
		ErrorMessage:  p.ErrorMessage,
		Analysis:      p.Analysis,
		Security:      p.Security,
		CreatedAt:     p.CreatedAt,
		StartedAt:     p.StartedAt,
		CompletedAt:   p.CompletedAt,
	}
}

func (p *Pipeline) FromEntity(e *entity.Pipeline) {
	if !e.ID.IsZero() {
		p.ID = e.ID.Uint()
	}
	p.RepoURL = e.RepoURL
	p.Branch = e.Branch
	p.CommitHash = e.CommitHash
	p.CommitMessage = e.CommitMessage
	p.TriggerType = e.TriggerType
	if p.TriggerType == "" && e.Trigger.Kind != "" {
		p.TriggerType = e.Trigger.String()
	}
	p.Status = string(e.Status)
	p.ErrorMessage = e.ErrorMessage
	p.Analysis = e.Analysis
	p.Security = e.Security
	p.StartedAt = e.StartedAt
	p.CompletedAt = e.CompletedAt
}

type StepLog struct {
	gorm.Model
	PipelineID  uint `gorm:"index"`
	StepName    string
	Status      string
	Output      string
	StartedAt   time.Time
	CompletedAt *time.Time
}

func (s *StepLog) ToEntity() *entity.StepRecord {
	rec := &entity.StepRecord{
		ID:          entity.NewID(s.ID),
		PipelineID:  entity.NewID(s.PipelineID),
		Step:        -1,
		Name:        s.StepName,
		Status:      entity.StepStatus(s.Status),
		Output:      s.Output,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
	if step, err := entity.ParseStep(s.StepName); err == nil {
		rec.Step = step
	}
	return rec
}

func (s *StepLog) FromEntity(e *entity.StepRecord) {
	if !e.ID.IsZero() {
		s.ID = e.ID.Uint()
	}
	s.PipelineID = e.PipelineID.Uint()
	s.StepName = e.Name
	if s.StepName == "" && e.Step.Valid() {
		s.StepName = e.Step.String()
	}
	s.Status = string(e.Status)
	s.Output = e.Output
	s.StartedAt = e.StartedAt
	s.CompletedAt = e.CompletedAt
}

type Deployment struct {
	gorm.Model
	PipelineID     uint `gorm:"index"`
	DockerImage    string
	CommitHash     string
	CommitMessage  string
	Status         string
	IsRollback     bool
	RolledBackFrom *uint
	RolledBackAt   *time.Time
	DeployedAt     time.Time `gorm:"index"`
}

func (d *Deployment) ToEntity() *entity.Deployment {
	dep := &entity.Deployment{
		ID:            entity.NewID(d.ID),
		PipelineID:    entity.NewID(d.PipelineID),
		DockerImage:   d.DockerImage,
		CommitHash:    d.CommitHash,
		CommitMessage: d.CommitMessage,
		Status:        entity.DeploymentStatus(d.Status),
		IsRollback:    d.IsRollback,
		RolledBackAt:  d.RolledBackAt,
		DeployedAt:    d.DeployedAt,
	}
	if d.RolledBackFrom != nil {
		from := entity.NewID(*d.RolledBackFrom)
		dep.RolledBackFrom = &from
	}
	return dep
}

func (d *Deployment) FromEntity(e *entity.Deployment) {
	if !e.ID.IsZero() {
		d.ID = e.ID.Uint()
	}
	if !e.PipelineID.IsZero() {
		d.PipelineID = e.PipelineID.Uint()
	}
	d.DockerImage = e.DockerImage
	d.CommitHash = e.CommitHash
	d.CommitMessage = e.CommitMessage
	d.Status = string(e.Status)
	d.IsRollback = e.IsRollback
	d.RolledBackAt = e.RolledBackAt
	d.DeployedAt = e.DeployedAt
	if e.RolledBackFrom != nil {
		from := e.RolledBackFrom.Uint()
		d.RolledBackFrom = &from
	}
}
