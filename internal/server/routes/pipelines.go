package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/lock"
	"github.com/yz4230/shipyard/internal/usecase"
)

func RegisterPipelineAPI(injector *do.Injector, e *echo.Echo) {
	g := e.Group("/api/pipelines")

	g.GET("", func(c echo.Context) error {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		usecase := do.MustInvoke[usecase.ListPipelineUsecase](injector)
		pipelines, err := usecase.Execute(c.Request().Context(), limit)
		if err != nil {
			return respondError(c, err)
		}

		type response struct {
			Pipelines []*entity.Pipeline `json:"pipelines"`
		}
		return c.JSON(http.StatusOK, &response{Pipelines: pipelines})
	})
	g.GET("/:id", func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return respondError(c, err)
		}
		usecase := do.MustInvoke[usecase.GetPipelineUsecase](injector)
		detail, err := usecase.Execute(c.Request().Context(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, detail)
	})
	g.POST("/trigger", func(c echo.Context) error {
		type request struct {
			RepoURL    string `json:"repo_url"`
			Branch     string `json:"branch"`
			CommitHash string `json:"commit_hash"`
		}
		var req request
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}

		usecase := do.MustInvoke[usecase.TriggerPipelineUsecase](injector)
		p, err := usecase.Execute(c.Request().Context(), &entity.Pipeline{
			RepoURL:    req.RepoURL,
			Branch:     req.Branch,
			CommitHash: req.CommitHash,
			Trigger:    entity.ManualTrigger(),
		})

		type response struct {
			Pipeline *entity.Pipeline `json:"pipeline"`
			Error    string           `json:"error,omitempty"`
		}
		if err != nil {
			if p != nil && errors.Is(err, entity.ErrLockBusy) {
				return c.JSON(http.StatusConflict, &response{Pipeline: p, Error: err.Error()})
			}
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, &response{Pipeline: p})
	})
	g.POST("/:id/cancel", func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return respondError(c, err)
		}
		usecase := do.MustInvoke[usecase.CancelPipelineUsecase](injector)
		if err := usecase.Execute(c.Request().Context(), id); err != nil {
			return respondError(c, err)
		}

		type response struct {
			Message string `json:"message"`
		}
		return c.JSON(http.StatusAccepted, &response{Message: "cancellation requested"})
	})
	g.POST("/:id/rollback", func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return respondError(c, err)
		}
		usecase := do.MustInvoke[usecase.RollbackPipelineUsecase](injector)
		dep, err := usecase.Execute(c.Request().Context(), id)
		if err != nil {
			return respondError(c, err)
		}

		type response struct {
			Message    string             `json:"message"`
			Version    string             `json:"version"`
			Deployment *entity.Deployment `json:"deployment"`
		}
		return c.JSON(http.StatusOK, &response{Message: "rollback completed", Version: dep.DockerImage, Deployment: dep})
	})

	e.GET("/api/lock", func(c echo.Context) error {
		return c.JSON(http.StatusOK, do.MustInvoke[*lock.DeploymentLock](injector).Status())
	})
}
