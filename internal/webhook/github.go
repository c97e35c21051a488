// Package webhook turns GitHub push deliveries into pipeline requests.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v28/github"
	"github.com/yz4230/shipyard/internal/entity"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	DeliveryHeader  = "X-GitHub-Delivery"

	zeroSHA = "0000000000000000000000000000000000000000"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

// Verify checks the sha256 HMAC GitHub computes over the raw body. An empty
// secret disables verification.
func Verify(secret []byte, signature string, body []byte) error {
	if len(secret) == 0 {
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}
	hexMAC, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(hexMAC)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign produces the header value Verify accepts.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type Kind string

const (
	KindPing     Kind = "ping"
	KindPush     Kind = "push"
	KindDeletion Kind = "deletion"
	KindIgnored  Kind = "ignored"
)

// Delivery is what a webhook call asks for.
type Delivery struct {
	Kind  Kind
	Event string

	// Set for pings.
	Zen    string
	HookID int64

	// Set for pushes.
	RepoName string
	Pipeline *entity.Pipeline
}

// Parse classifies a delivery by its X-GitHub-Event type and, for pushes,
// builds the pipeline to start.
func Parse(eventType string, body []byte) (*Delivery, error) {
	switch eventType {
	case "ping", "push":
	default:
		return &Delivery{Kind: KindIgnored, Event: eventType}, nil
	}

	event, err := github.ParseWebHook(eventType, body)
	if err != nil {
		return nil, &entity.ValidationError{Field: "payload", Reason: err.Error()}
	}

	switch ev := event.(type) {
	case *github.PingEvent:
		return &Delivery{Kind: KindPing, Event: eventType, Zen: ev.GetZen(), HookID: ev.GetHookID()}, nil
	case *github.PushEvent:
		return parsePush(ev)
	}
	return nil, fmt.Errorf("unexpected payload %T: %w", event, entity.ErrInternal)
}

func parsePush(ev *github.PushEvent) (*Delivery, error) {
	d := &Delivery{Kind: KindPush, Event: "push", RepoName: ev.GetRepo().GetFullName()}
	if ev.GetDeleted() || ev.GetAfter() == zeroSHA {
		d.Kind = KindDeletion
		return d, nil
	}

	repoURL := ev.GetRepo().GetCloneURL()
	if repoURL == "" {
		return nil, &entity.ValidationError{Field: "repository", Reason: "missing repository URL"}
	}
	message, _, _ := strings.Cut(ev.GetHeadCommit().GetMessage(), "\n")
	d.Pipeline = &entity.Pipeline{
		RepoURL:       repoURL,
		Branch:        strings.TrimPrefix(ev.GetRef(), "refs/heads/"),
		CommitHash:    ev.GetAfter(),
		CommitMessage: message,
		Trigger:       entity.GitHubWebhookTrigger(ev.GetPusher().GetName()),
	}
	return d, nil
}
