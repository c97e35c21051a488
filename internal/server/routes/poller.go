package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/poller"
)

func RegisterPollerAPI(injector *do.Injector, e *echo.Echo) {
	g := e.Group("/api/poller")

	type response struct {
		Message string         `json:"message,omitempty"`
		Checked []string       `json:"checked,omitempty"`
		Status  *poller.Status `json:"status"`
	}
	status := func(p *poller.Poller) *poller.Status {
		st := p.Status()
		return &st
	}

	g.GET("/status", func(c echo.Context) error {
		p := do.MustInvoke[*poller.Poller](injector)
		return c.JSON(http.StatusOK, &response{Status: status(p)})
	})
	g.POST("/start", func(c echo.Context) error {
		p := do.MustInvoke[*poller.Poller](injector)
		// The poller outlives the request that started it.
		p.Start(context.WithoutCancel(c.Request().Context()))
		return c.JSON(http.StatusOK, &response{Message: "poller started", Status: status(p)})
	})
	g.POST("/stop", func(c echo.Context) error {
		p := do.MustInvoke[*poller.Poller](injector)
		p.Stop()
		return c.JSON(http.StatusOK, &response{Message: "poller stopped", Status: status(p)})
	})
	g.POST("/check", func(c echo.Context) error {
		p := do.MustInvoke[*poller.Poller](injector)
		checked := p.ForceCheck(c.Request().Context())
		return c.JSON(http.StatusOK, &response{Message: "check completed", Checked: checked, Status: status(p)})
	})
	g.PUT("/interval", func(c echo.Context) error {
		type request struct {
			// Interval is in milliseconds.
			Interval int64 `json:"interval"`
		}
		var req request
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		p := do.MustInvoke[*poller.Poller](injector)
		if err := p.SetInterval(time.Duration(req.Interval) * time.Millisecond); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, &response{Message: "interval updated", Status: status(p)})
	})
}
