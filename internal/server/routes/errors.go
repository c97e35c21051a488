package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/lock"
)

type errorResponse struct {
	Error string      `json:"error"`
	Lock  *lockHolder `json:"lock,omitempty"`
}

type lockHolder struct {
	Operation      lock.Operation `json:"operation"`
	PipelineID     entity.ID      `json:"pipeline_id"`
	ElapsedSeconds int64          `json:"elapsed_seconds"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalid), errors.Is(err, entity.ErrNoRollbackTarget):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrLockBusy), errors.Is(err, entity.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, entity.ErrRemoteConnection):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON with the status its kind maps to.
func respondError(c echo.Context, err error) error {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
	}
	res := &errorResponse{Error: err.Error()}
	var busy *lock.BusyError
	if errors.As(err, &busy) {
		res.Lock = &lockHolder{Operation: busy.Operation, PipelineID: busy.OwnerID, ElapsedSeconds: int64(busy.Elapsed.Seconds())}
	}
	return c.JSON(status, res)
}

func paramID(c echo.Context) (entity.ID, error) {
	return entity.ParseID(c.Param("id"))
}
