package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/yz4230/shipyard/internal/entity"
)

type Name string

const (
	PipelineCreated   Name = "pipeline_created"
	PipelineStarted   Name = "pipeline_started"
	PipelineCompleted Name = "pipeline_completed"
	PipelineFailed    Name = "pipeline_failed"
	PipelineCancelled Name = "pipeline_cancelled"

	StepStarted   Name = "step_started"
	StepCompleted Name = "step_completed"
	StepFailed    Name = "step_failed"

	RollbackStarted   Name = "rollback_started"
	RollbackCompleted Name = "rollback_completed"
	RollbackFailed    Name = "rollback_failed"
)

// Event is one lifecycle notification. ID lets consumers drop duplicates.
type Event struct {
	ID         string                `json:"id"`
	Name       Name                  `json:"event"`
	PipelineID entity.ID             `json:"pipeline_id,omitempty"`
	Step       string                `json:"step,omitempty"`
	Output     string                `json:"output,omitempty"`
	Error      string                `json:"error,omitempty"`
	Status     entity.PipelineStatus `json:"status,omitempty"`
	Version    string                `json:"version,omitempty"`
	Trigger    string                `json:"trigger,omitempty"`
	Time       time.Time             `json:"time"`
}

func New(name Name, pipelineID entity.ID) Event {
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		PipelineID: pipelineID,
		Time:       time.Now().UTC(),
	}
}

func (e Event) WithStep(step entity.Step) Event {
	e.Step = step.String()
	return e
}

func (e Event) WithOutput(output string) Event {
	e.Output = output
	return e
}

func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (e Event) WithStatus(status entity.PipelineStatus) Event {
	e.Status = status
	return e
}

func (e Event) WithVersion(image string) Event {
	e.Version = image
	return e
}

// Publisher is where the orchestrator hands its notifications.
type Publisher interface {
	Publish(e Event)
}

// Discard drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
