package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/config"
	"github.com/yz4230/shipyard/internal/runner"
)

func RegisterMisc(injector *do.Injector, e *echo.Echo) {
	e.GET("/api/health", func(c echo.Context) error {
		type response struct {
			Status  string `json:"status"`
			Mode    string `json:"mode"`
			Running int    `json:"running_pipelines"`
		}
		cfg := do.MustInvoke[*config.Config](injector)
		running := do.MustInvoke[*runner.Runner](injector).Running()
		return c.JSON(http.StatusOK, &response{Status: "OK", Mode: cfg.Mode, Running: len(running)})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
