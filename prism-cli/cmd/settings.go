package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"prism-plan/client"
	"prism-plan/matrix"
	"prism-plan/realtime"
)

type settings struct {
	APIURL            string
	StreamURL         string
	Token             string
	Transport         string
	RequestTimeout    time.Duration
	ReconnectAttempts int
}

func loadSettings(v *viper.Viper) (settings, error) {
	s := settings{
		APIURL:            strings.TrimRight(v.GetString("api-url"), "/"),
		StreamURL:         strings.TrimRight(v.GetString("stream-url"), "/"),
		Token:             v.GetString("token"),
		Transport:         strings.ToLower(v.GetString("transport")),
		RequestTimeout:    v.GetDuration("request-timeout"),
		ReconnectAttempts: v.GetInt("reconnect-attempts"),
	}
	if s.APIURL == "" {
		return s, errors.New("api-url is required")
	}
	if s.Token == "" {
		return s, errors.New("token is required (set --token or PRISM_TOKEN)")
	}
	if s.ReconnectAttempts < 0 {
		return s, errors.New("reconnect-attempts must not be negative")
	}
	switch s.Transport {
	case "", "sse":
		s.Transport = "sse"
	case "ws":
	default:
		return s, fmt.Errorf("unknown transport %q (want sse or ws)", s.Transport)
	}
	return s, nil
}

func (s settings) client() *client.Client {
	return client.New(s.APIURL, s.Token)
}

func (s settings) sessionOptions() []matrix.Option {
	var opts []matrix.Option
	if s.RequestTimeout > 0 {
		opts = append(opts, matrix.WithRequestTimeout(s.RequestTimeout))
	}
	return opts
}

func (s settings) backoff() realtime.Backoff {
	b := realtime.DefaultBackoff
	b.MaxAttempts = s.ReconnectAttempts
	return b
}

// transport builds the realtime transport for the stream-service.
func (s settings) transport() (realtime.Transport, error) {
	u, err := url.Parse(s.StreamURL)
	if err != nil {
		return nil, fmt.Errorf("stream-url: %w", err)
	}
	switch s.Transport {
	case "ws":
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		u.Path = strings.TrimRight(u.Path, "/") + "/ws"
		return &realtime.WebSocketTransport{URL: u.String(), Token: s.Token}, nil
	default:
		u.Path = strings.TrimRight(u.Path, "/") + "/stream"
		return &realtime.SSETransport{URL: u.String(), Token: s.Token}, nil
	}
}
