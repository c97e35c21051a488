package routes

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboards are served from other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterEvents streams lifecycle events over a websocket. ?pipeline_id=N
// narrows the stream to one pipeline.
func RegisterEvents(injector *do.Injector, e *echo.Echo) {
	e.GET("/api/events", func(c echo.Context) error {
		var pipelineID entity.ID
		if raw := c.QueryParam("pipeline_id"); raw != "" {
			id, err := entity.ParseID(raw)
			if err != nil {
				return respondError(c, err)
			}
			pipelineID = id
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return nil
		}
		defer conn.Close()

		broker := do.MustInvoke[*events.Broker](injector)
		ch, unsubscribe := broker.Subscribe(pipelineID)
		defer unsubscribe()

		log := zerolog.Ctx(c.Request().Context()).With().Str("pipeline_id", pipelineID.String()).Logger()
		log.Debug().Msg("event stream opened")

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				log.Debug().Msg("event stream closed by client")
				return nil
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					if !isExpectedClose(err) {
						log.Warn().Err(err).Msg("event stream write failed")
					}
					return nil
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return nil
				}
			}
		}
	})
}

func isExpectedClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}
