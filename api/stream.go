package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const streamHeartbeat = 25 * time.Second

// EventSource delivers the encoded change events of one user.
type EventSource interface {
	Subscribe(ctx context.Context, userID string) (<-chan []byte, func(), error)
}

// streamEvents forwards change events to the client as server-sent events.
// Browsers cannot set headers on EventSource, so the token may also come in
// the "token" query parameter.
func (s *server) streamEvents(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = bearerPrefix + token
	}
	userID, err := s.Auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}

	ctx := c.Request().Context()
	events, stop, err := s.Events.Subscribe(ctx, userID)
	if err != nil {
		s.log.WithField("user", userID).Errorf("subscribe to events: %v", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "event stream unavailable"})
	}
	defer stop()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := resp.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
		case data, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(resp, data); err != nil {
				s.log.WithFields(log.Fields{"user": userID}).Debugf("stream closed: %v", err)
				return nil
			}
		}
		resp.Flush()
	}
}

func writeEvent(w *echo.Response, data []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
