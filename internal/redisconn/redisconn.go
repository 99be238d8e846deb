// Package redisconn turns the REDIS_CONNECTION_STRING setting into client
// options. Both redis:// URLs and Azure-style "host:port,password=...,ssl=True"
// strings are accepted.
package redisconn

import (
	"crypto/tls"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

var ErrEmpty = errors.New("missing redis config")

func Options(conn string) (*redis.Options, error) {
	conn = strings.TrimSpace(conn)
	if conn == "" {
		return nil, ErrEmpty
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

// NewClient parses conn and returns a client for it.
func NewClient(conn string) (*redis.Client, error) {
	opts, err := Options(conn)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
