package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/usecase"
)

func RegisterDeploymentAPI(injector *do.Injector, e *echo.Echo) {
	g := e.Group("/api/deployments")

	g.GET("/current", func(c echo.Context) error {
		type response struct {
			Current *usecase.DeploymentView `json:"current"`
			Message string                  `json:"message,omitempty"`
		}

		usecase := do.MustInvoke[usecase.GetCurrentDeploymentUsecase](injector)
		current, err := usecase.Execute(c.Request().Context())
		if errors.Is(err, entity.ErrNotFound) {
			return c.JSON(http.StatusOK, &response{Message: "no active deployment found"})
		}
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, &response{Current: current})
	})
	g.GET("/history", func(c echo.Context) error {
		type response struct {
			Deployments []*usecase.DeploymentView `json:"deployments"`
		}

		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		usecase := do.MustInvoke[usecase.ListDeploymentHistoryUsecase](injector)
		deployments, err := usecase.Execute(c.Request().Context(), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, &response{Deployments: deployments})
	})
	g.GET("/rollback-target", func(c echo.Context) error {
		usecase := do.MustInvoke[usecase.PreviewRollbackUsecase](injector)
		plan, err := usecase.Execute(c.Request().Context())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, plan)
	})
	g.GET("/:id", func(c echo.Context) error {
		type response struct {
			Deployment *usecase.DeploymentView `json:"deployment"`
		}

		id, err := paramID(c)
		if err != nil {
			return respondError(c, err)
		}
		usecase := do.MustInvoke[usecase.GetDeploymentUsecase](injector)
		dep, err := usecase.Execute(c.Request().Context(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, &response{Deployment: dep})
	})
}
