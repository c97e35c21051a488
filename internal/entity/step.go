package entity

import (
	"fmt"
	"time"
)

// Step is one member of the fixed pipeline step list.
type Step int

const (
	StepClone Step = iota
	StepTest
	StepBuild
	StepAnalyze
	StepBuildImage
	StepDeploy
	StepHealthCheck
	StepSecurityScan

	stepCount
)

// Steps is the order every pipeline runs in.
var Steps = [stepCount]Step{
	StepClone,
	StepTest,
	StepBuild,
	StepAnalyze,
	StepBuildImage,
	StepDeploy,
	StepHealthCheck,
	StepSecurityScan,
}

// Dashboards key off these names literally.
var stepNames = [stepCount]string{
	StepClone:        "Clone Repository",
	StepTest:         "Run Tests",
	StepBuild:        "Build Package",
	StepAnalyze:      "SonarQube Analysis",
	StepBuildImage:   "Build Docker Image",
	StepDeploy:       "Deploy to VM",
	StepHealthCheck:  "Health Check",
	StepSecurityScan: "Security Scan",
}

func (s Step) String() string {
	if s < 0 || s >= stepCount {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

func (s Step) Valid() bool { return s >= 0 && s < stepCount }

// ParseStep maps a literal step name back to its Step.
func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return -1, &ValidationError{Field: "step", Reason: fmt.Sprintf("unknown step %q", name)}
}

type StepStatus string

const (
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
)

// StepRecord is the append-only log entry for one step of one pipeline.
type StepRecord struct {
	ID          ID         `json:"id"`
	PipelineID  ID         `json:"pipeline_id"`
	Step        Step       `json:"-"`
	Name        string     `json:"step_name"`
	Status      StepStatus `json:"status"`
	Output      string     `json:"output"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
