package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepsOrder(t *testing.T) {
	names := make([]string, 0, len(Steps))
	for _, s := range Steps {
		names = append(names, s.String())
	}
	assert.Equal(t, []string{
		"Clone Repository",
		"Run Tests",
		"Build Package",
		"SonarQube Analysis",
		"Build Docker Image",
		"Deploy to VM",
		"Health Check",
		"Security Scan",
	}, names)
}

func TestParseStep(t *testing.T) {
	s, err := ParseStep("Health Check")
	require.NoError(t, err)
	assert.Equal(t, StepHealthCheck, s)

	_, err = ParseStep("Lint")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestTriggerRoundTrip(t *testing.T) {
	tests := []struct {
		trigger Trigger
		want    string
	}{
		{ManualTrigger(), "manual"},
		{PollTrigger("alice"), "poll:alice"},
		{GitHubWebhookTrigger("bob"), "webhook:github:bob"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.trigger.String())
			assert.Equal(t, tt.trigger, ParseTrigger(tt.want))
		})
	}
}

func TestPipelineDefaultsAndValidation(t *testing.T) {
	p := &Pipeline{RepoURL: " https://github.com/acme/demo.git "}
	p.FillDefaults()
	require.NoError(t, p.Validate())
	assert.Equal(t, "master", p.Branch)
	assert.Equal(t, "manual", p.TriggerType)
	assert.Equal(t, PipelineStatusPending, p.Status)
	assert.Equal(t, "demo", p.RepoName())
	assert.Equal(t, "latest", p.ImageTag())

	missing := &Pipeline{}
	missing.FillDefaults()
	assert.ErrorIs(t, missing.Validate(), ErrInvalid)

	bad := &Pipeline{RepoURL: "https://github.com/acme/demo.git", Branch: "main; rm -rf /"}
	assert.ErrorIs(t, bad.Validate(), ErrInvalid)
}

func TestClassifySecurity(t *testing.T) {
	assert.Equal(t, SecurityStatusCritical, ClassifySecurity(1, 4))
	assert.Equal(t, SecurityStatusWarning, ClassifySecurity(0, 2))
	assert.Equal(t, SecurityStatusPassed, ClassifySecurity(0, 0))
}

func TestValidationErrorMatching(t *testing.T) {
	err := errors.Join(errors.New("context"), ErrInvalidImageFormat)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, ErrInvalidImageFormat)
	assert.NotErrorIs(t, &ValidationError{Field: "repo_url", Reason: "is required"}, ErrInvalidImageFormat)
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, PipelineStatusPending.IsTerminal())
	assert.False(t, PipelineStatusRunning.IsTerminal())
	assert.True(t, PipelineStatusSuccess.IsTerminal())
	assert.True(t, PipelineStatusFailed.IsTerminal())
	assert.True(t, PipelineStatusCancelled.IsTerminal())
}
