package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/config"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/usecase"
	"github.com/yz4230/shipyard/internal/webhook"
)

const maxWebhookBody = 5 << 20

func RegisterWebhooks(injector *do.Injector, e *echo.Echo) {
	g := e.Group("/api/webhooks")
	secret := []byte(do.MustInvoke[*config.Config](injector).Webhook.Secret)

	type message struct {
		Message string `json:"message"`
		Event   string `json:"event,omitempty"`
		Zen     string `json:"zen,omitempty"`
		HookID  int64  `json:"hook_id,omitempty"`
	}

	g.POST("/github", func(c echo.Context) error {
		req := c.Request()
		log := zerolog.Ctx(req.Context())

		body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		if len(secret) == 0 {
			log.Warn().Msg("webhook secret not configured, skipping signature verification")
		}
		if err := webhook.Verify(secret, req.Header.Get(webhook.SignatureHeader), body); err != nil {
			log.Warn().Err(err).Msg("rejected webhook delivery")
			return c.JSON(http.StatusUnauthorized, &errorResponse{Error: err.Error()})
		}

		eventType := req.Header.Get("X-GitHub-Event")
		log.Info().Str("event", eventType).Str("delivery", req.Header.Get(webhook.DeliveryHeader)).Msg("received github webhook")

		d, err := webhook.Parse(eventType, body)
		if err != nil {
			return respondError(c, err)
		}
		switch d.Kind {
		case webhook.KindPing:
			return c.JSON(http.StatusOK, &message{Message: "pong", Zen: d.Zen, HookID: d.HookID})
		case webhook.KindIgnored:
			return c.JSON(http.StatusOK, &message{Message: "event ignored", Event: d.Event})
		case webhook.KindDeletion:
			return c.JSON(http.StatusOK, &message{Message: "deletion event ignored"})
		}

		usecase := do.MustInvoke[usecase.TriggerPipelineUsecase](injector)
		p, err := usecase.Execute(req.Context(), d.Pipeline)

		type response struct {
			Message    string    `json:"message"`
			PipelineID entity.ID `json:"pipeline_id"`
			Repo       string    `json:"repo"`
			Branch     string    `json:"branch"`
			Commit     string    `json:"commit"`
			Error      string    `json:"error,omitempty"`
		}
		if err != nil {
			if p != nil && errors.Is(err, entity.ErrLockBusy) {
				return c.JSON(http.StatusConflict, &response{
					Message: "pipeline rejected", PipelineID: p.ID, Repo: d.RepoName, Branch: p.Branch, Commit: p.CommitHash, Error: err.Error(),
				})
			}
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, &response{
			Message: "pipeline triggered", PipelineID: p.ID, Repo: d.RepoName, Branch: p.Branch, Commit: p.CommitHash,
		})
	})
	g.GET("/github/verify", func(c echo.Context) error {
		type response struct {
			Configured bool `json:"configured"`
		}
		return c.JSON(http.StatusOK, &response{Configured: len(secret) > 0})
	})
}
