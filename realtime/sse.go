package realtime

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"prism-plan/domain"
)

// HandshakeComment is the SSE comment a stream server writes first to
// acknowledge a subscription.
const HandshakeComment = ": connected"

// SSETransport subscribes to a stream-service /stream endpoint.
type SSETransport struct {
	URL    string
	Token  string
	Client *http.Client
}

func (t *SSETransport) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	// The server derives the user from the token; userID only matters to
	// transports without authentication.
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("stream url: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(sctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, statusError(resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: handshake: %v", domain.ErrRemoteUnavailable, err)
	}
	if strings.TrimRight(line, "\r\n") != HandshakeComment {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: unexpected handshake %q", domain.ErrRemoteUnavailable, line)
	}

	s := &sseSubscription{
		body:   resp.Body,
		cancel: cancel,
		frames: make(chan []byte),
	}
	go s.read(sctx, reader)
	return s, nil
}

type sseSubscription struct {
	body   io.Closer
	cancel context.CancelFunc
	frames chan []byte

	mu  sync.Mutex
	err error
}

func (s *sseSubscription) Frames() <-chan []byte { return s.frames }

func (s *sseSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *sseSubscription) Close() error {
	s.cancel()
	return s.body.Close()
}

func (s *sseSubscription) read(ctx context.Context, r *bufio.Reader) {
	defer close(s.frames)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			frame := append([]byte(nil), data.Bytes()...)
			data.Reset()
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	err := scanner.Err()
	if err == nil || ctx.Err() != nil {
		err = ErrStreamClosed
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// statusError maps a refused subscription onto the shared error taxonomy.
func statusError(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrPermissionDenied, code)
	default:
		return fmt.Errorf("%w: status %d", domain.ErrRemoteUnavailable, code)
	}
}

// IsFatal reports whether err should stop reconnect attempts.
func IsFatal(err error) bool {
	return errors.Is(err, domain.ErrPermissionDenied)
}
