package entity

import (
	"strings"
	"time"
)

type PipelineStatus string

const (
	PipelineStatusPending   PipelineStatus = "pending"
	PipelineStatusRunning   PipelineStatus = "running"
	PipelineStatusSuccess   PipelineStatus = "success"
	PipelineStatusFailed    PipelineStatus = "failed"
	PipelineStatusCancelled PipelineStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineStatusSuccess, PipelineStatusFailed, PipelineStatusCancelled:
		return true
	}
	return false
}

type TriggerKind string

const (
	TriggerManual  TriggerKind = "manual"
	TriggerWebhook TriggerKind = "webhook"
	TriggerPoll    TriggerKind = "poll"
)

// Trigger records what started a pipeline and on whose behalf.
// It is stored in its string form, e.g. "manual", "webhook:github:alice" or "poll:bob".
type Trigger struct {
	Kind       TriggerKind
	Originator string
}

func ManualTrigger() Trigger            { return Trigger{Kind: TriggerManual} }
func PollTrigger(author string) Trigger { return Trigger{Kind: TriggerPoll, Originator: author} }

func GitHubWebhookTrigger(pusher string) Trigger {
	return Trigger{Kind: TriggerWebhook, Originator: "github:" + pusher}
}

func (t Trigger) String() string {
	if t.Originator == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.Originator
}

func ParseTrigger(s string) Trigger {
	kind, originator, _ := strings.Cut(s, ":")
	return Trigger{Kind: TriggerKind(kind), Originator: originator}
}

type Pipeline struct {
	ID            ID             `json:"id"`
	RepoURL       string         `json:"repo_url"`
	Branch        string         `json:"branch"`
	CommitHash    string         `json:"commit_hash,omitempty"`
	CommitMessage string         `json:"commit_message,omitempty"`
	Trigger       Trigger        `json:"-"`
	TriggerType   string         `json:"trigger_type"`
	Status        PipelineStatus `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`

	Analysis *AnalysisSummary `json:"analysis,omitempty"`
	Security *SecuritySummary `json:"security,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ImageTag is the commit hash the image gets tagged with, or "latest".
func (p *Pipeline) ImageTag() string {
	if p.CommitHash == "" {
		return "latest"
	}
	return p.CommitHash
}

// RepoName is the last path element of the repository URL without ".git".
func (p *Pipeline) RepoName() string {
	name := strings.TrimSuffix(p.RepoURL, "/")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".git")
}

// FillDefaults normalizes a freshly triggered pipeline.
func (p *Pipeline) FillDefaults() {
	p.RepoURL = strings.TrimSpace(p.RepoURL)
	p.Branch = strings.TrimSpace(p.Branch)
	if p.Branch == "" {
		p.Branch = "master"
	}
	if p.Trigger.Kind == "" {
		p.Trigger = ManualTrigger()
	}
	p.TriggerType = p.Trigger.String()
	p.Status = PipelineStatusPending
}

func (p *Pipeline) Validate() error {
	if p.RepoURL == "" {
		return &ValidationError{Field: "repo_url", Reason: "is required"}
	}
	if strings.ContainsAny(p.Branch, " \t\n;&|`$") {
		return &ValidationError{Field: "branch", Reason: "contains forbidden characters"}
	}
	return nil
}

// AnalysisSummary is what the static analysis step reports back.
type AnalysisSummary struct {
	ProjectKey      string  `json:"project_key"`
	QualityGate     string  `json:"quality_gate"`
	Bugs            int     `json:"bugs"`
	Vulnerabilities int     `json:"vulnerabilities"`
	CodeSmells      int     `json:"code_smells"`
	Coverage        float64 `json:"coverage"`
	DashboardURL    string  `json:"dashboard_url,omitempty"`
}

type SecurityStatus string

const (
	SecurityStatusPassed   SecurityStatus = "passed"
	SecurityStatusWarning  SecurityStatus = "warning"
	SecurityStatusCritical SecurityStatus = "critical"
)

// SecuritySummary counts findings per severity.
type SecuritySummary struct {
	Status SecurityStatus `json:"status"`
	High   int            `json:"high"`
	Medium int            `json:"medium"`
	Low    int            `json:"low"`
	Info   int            `json:"info"`
	Report string         `json:"report,omitempty"`
}

// ClassifySecurity derives the status from the highest severity found.
func ClassifySecurity(high, medium int) SecurityStatus {
	switch {
	case high > 0:
		return SecurityStatusCritical
	case medium > 0:
		return SecurityStatusWarning
	}
	return SecurityStatusPassed
}
