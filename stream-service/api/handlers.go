package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-plan/auth"
	"prism-plan/realtime"
)

const (
	keepAliveInterval = 25 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
)

// Register wires up stream endpoints on the given Echo instance.
func Register(e *echo.Echo, hub *Hub, authn auth.Authenticator, logger *log.Logger) {
	s := &streams{
		hub:  hub,
		auth: authn,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	e.GET("/stream", s.sse)
	e.GET("/ws", s.ws)
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

type streams struct {
	hub      *Hub
	auth     auth.Authenticator
	log      *log.Logger
	upgrader websocket.Upgrader
}

func (s *streams) authenticate(c echo.Context) (string, error) {
	return s.auth.UserIDFromAuthHeader(auth.HeaderFromRequest(c.Request()))
}

func (s *streams) sse(c echo.Context) error {
	userID, err := s.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	ch := s.hub.Add(userID)
	defer s.hub.Remove(userID, ch)
	s.log.WithField("userId", userID).Debug("sse client connected")

	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write([]byte(realtime.HandshakeComment + "\n\n")); err != nil {
		return err
	}
	flusher.Flush()

	ctx := c.Request().Context()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
		case frame := <-ch:
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(frame); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
		}
		flusher.Flush()
	}
}

func (s *streams) ws(c echo.Context) error {
	userID, err := s.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return nil
	}
	ch := s.hub.Add(userID)
	defer s.hub.Remove(userID, ch)
	s.log.WithField("userId", userID).Debug("websocket client connected")

	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, ch, done)
	return nil
}

// readPump discards client messages and closes done when the peer goes away.
func (s *streams) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("websocket read")
			}
			return
		}
	}
}

func (s *streams) writePump(conn *websocket.Conn, ch <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case frame := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
