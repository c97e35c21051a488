package entity

import "time"

type DeploymentStatus string

const (
	DeploymentStatusPending    DeploymentStatus = "pending"
	DeploymentStatusRunning    DeploymentStatus = "running"
	DeploymentStatusSuccess    DeploymentStatus = "success"
	DeploymentStatusFailed     DeploymentStatus = "failed"
	DeploymentStatusRolledBack DeploymentStatus = "rolled_back"
)

// Deployment is one recorded production image switch.
type Deployment struct {
	ID             ID               `json:"id"`
	PipelineID     ID               `json:"pipeline_id"`
	DockerImage    string           `json:"docker_image"`
	CommitHash     string           `json:"commit_hash,omitempty"`
	CommitMessage  string           `json:"commit_message,omitempty"`
	Status         DeploymentStatus `json:"status"`
	IsRollback     bool             `json:"is_rollback"`
	RolledBackFrom *ID              `json:"rolled_back_from,omitempty"`
	RolledBackAt   *time.Time       `json:"rolled_back_at,omitempty"`
	DeployedAt     time.Time        `json:"deployed_at"`
}

// IsActive reports whether the row still describes what runs in production.
func (d *Deployment) IsActive() bool {
	return d.Status == DeploymentStatusSuccess && d.RolledBackAt == nil
}

// DisplayStatus is the status shown in history listings.
func (d *Deployment) DisplayStatus() DeploymentStatus {
	if d.RolledBackAt != nil {
		return DeploymentStatusRolledBack
	}
	return d.Status
}
