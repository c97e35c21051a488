package routes

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/config"
	"github.com/yz4230/shipyard/internal/remote"
)

func RegisterVMAPI(injector *do.Injector, e *echo.Echo) {
	g := e.Group("/api/vm")

	g.GET("/status", func(c echo.Context) error {
		deployer := do.MustInvoke[remote.Deployer](injector)
		cfg := do.MustInvoke[*config.Config](injector)
		ctx := c.Request().Context()

		type vm struct {
			Connected bool   `json:"connected"`
			Host      string `json:"host"`
		}
		type container struct {
			Status  string `json:"status"`
			Healthy bool   `json:"healthy"`
		}
		type response struct {
			VM        vm        `json:"vm"`
			Container container `json:"container"`
		}
		res := &response{VM: vm{Host: cfg.Remote.SSH.Host}}
		if res.VM.Host == "" {
			res.VM.Host = "not configured"
		}

		var wg sync.WaitGroup
		wg.Go(func() { res.VM.Connected, _ = deployer.TestConnection(ctx) })
		wg.Go(func() {
			status, err := deployer.ContainerStatus(ctx)
			if err != nil {
				status = err.Error()
			}
			res.Container.Status = status
		})
		wg.Go(func() { res.Container.Healthy, _ = deployer.HealthCheck(ctx) })
		wg.Wait()

		return c.JSON(http.StatusOK, res)
	})
	g.GET("/logs", func(c echo.Context) error {
		lines, err := strconv.Atoi(c.QueryParam("lines"))
		if err != nil || lines <= 0 {
			lines = 50
		}
		deployer := do.MustInvoke[remote.Deployer](injector)
		logs, err := deployer.Logs(c.Request().Context(), min(lines, 1000))
		if err != nil {
			return respondError(c, err)
		}

		type response struct {
			Logs string `json:"logs"`
		}
		return c.JSON(http.StatusOK, &response{Logs: logs})
	})
	g.POST("/test-connection", func(c echo.Context) error {
		deployer := do.MustInvoke[remote.Deployer](injector)
		ok, err := deployer.TestConnection(c.Request().Context())

		type response struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		res := &response{Success: ok && err == nil, Message: "SSH connection successful"}
		if !res.Success {
			res.Message = "SSH connection failed"
			if err != nil {
				res.Message += ": " + err.Error()
			}
		}
		return c.JSON(http.StatusOK, res)
	})
}
