// Package executor runs individual pipeline steps.
package executor

import (
	"context"
	"fmt"

	"github.com/yz4230/shipyard/internal/entity"
)

// Result is what a step hands back to the runner. The runner persists the
// optional summaries; executors never write the pipeline row.
type Result struct {
	Output   string
	Analysis *entity.AnalysisSummary
	Security *entity.SecuritySummary
}

// Executor has one handler per step. Adding a step to entity.Steps means
// adding a method here, which every implementation must then provide.
type Executor interface {
	Clone(ctx context.Context, p *entity.Pipeline) (*Result, error)
	Test(ctx context.Context, p *entity.Pipeline) (*Result, error)
	Build(ctx context.Context, p *entity.Pipeline) (*Result, error)
	Analyze(ctx context.Context, p *entity.Pipeline) (*Result, error)
	BuildImage(ctx context.Context, p *entity.Pipeline) (*Result, error)
	Deploy(ctx context.Context, p *entity.Pipeline) (*Result, error)
	HealthCheck(ctx context.Context, p *entity.Pipeline) (*Result, error)
	SecurityScan(ctx context.Context, p *entity.Pipeline) (*Result, error)
}

// Cleaner is implemented by executors that leave per-pipeline state behind.
type Cleaner interface {
	Cleanup(ctx context.Context, p *entity.Pipeline) error
}

type handlerFunc func(ctx context.Context, p *entity.Pipeline) (*Result, error)

func handler(ex Executor, step entity.Step) handlerFunc {
	switch step {
	case entity.StepClone:
		return ex.Clone
	case entity.StepTest:
		return ex.Test
	case entity.StepBuild:
		return ex.Build
	case entity.StepAnalyze:
		return ex.Analyze
	case entity.StepBuildImage:
		return ex.BuildImage
	case entity.StepDeploy:
		return ex.Deploy
	case entity.StepHealthCheck:
		return ex.HealthCheck
	case entity.StepSecurityScan:
		return ex.SecurityScan
	}
	return nil
}

// Run dispatches step to its handler. Any failure comes back as a *StepError.
func Run(ctx context.Context, ex Executor, step entity.Step, p *entity.Pipeline) (*Result, error) {
	h := handler(ex, step)
	if h == nil {
		return nil, &StepError{Step: step, Err: &entity.ValidationError{Field: "step", Reason: "no handler for " + step.String()}}
	}
	res, err := h(ctx, p)
	if err != nil {
		return res, &StepError{Step: step, Err: err}
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

// StepError is a failed step. Its message is what gets recorded as the step output.
type StepError struct {
	Step entity.Step
	Err  error
}

func (e *StepError) Error() string { return e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Is(target error) bool { return target == entity.ErrStepFailed }

type Mode string

const (
	ModeSimulate Mode = "simulate"
	ModeReal     Mode = "real"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSimulate, ModeReal:
		return m, nil
	case "":
		return ModeSimulate, nil
	}
	return "", &entity.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown execution mode %q", s)}
}

// New picks the implementation for mode.
func New(mode Mode, cfg Config, deps Deps) (Executor, error) {
	switch mode {
	case ModeSimulate:
		sim := cfg.Simulate
		sim.App = cfg.App
		return NewSimulator(sim, deps.Log), nil
	case ModeReal:
		return NewReal(cfg, deps)
	}
	return nil, &entity.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown execution mode %q", mode)}
}
