package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prism-plan/domain"
)

const (
	// Time allowed to read the next message or ping from the server.
	wsReadWait = 90 * time.Second

	wsMaxMessageSize = 512 * 1024
)

// WebSocketTransport subscribes to a stream-service /ws endpoint. The upgrade
// response is the handshake.
type WebSocketTransport struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

func (t *WebSocketTransport) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}
	conn, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil {
			return nil, statusError(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}

	s := &wsSubscription{conn: conn, frames: make(chan []byte), closed: make(chan struct{})}
	go s.read()
	return s, nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *wsSubscription) Frames() <-chan []byte { return s.frames }

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSubscription) read() {
	defer close(s.frames)

	s.conn.SetReadLimit(wsMaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsReadWait))
	s.conn.SetPingHandler(func(data string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(wsReadWait))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		mt, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.err = ErrStreamClosed
			} else {
				s.err = fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
			}
			s.mu.Unlock()
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsReadWait))
		if mt != websocket.TextMessage {
			continue
		}
		select {
		case s.frames <- msg:
		case <-s.closed:
			return
		}
	}
}
