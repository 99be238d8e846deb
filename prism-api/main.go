package main

import (
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"prism-plan/auth"
	"prism-plan/internal/redisconn"
	"prism-plan/prism-api/api"
	"prism-plan/prism-api/storage"
	"prism-plan/realtime"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	if connStr == "" || tasksTableName == "" {
		log.Fatal("missing storage config")
	}
	eventsQueue := os.Getenv("DOMAIN_EVENTS_QUEUE")
	base, err := storage.New(connStr, tasksTableName, eventsQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	rc, err := redisconn.NewClient(os.Getenv("REDIS_CONNECTION_STRING"))
	if err != nil {
		log.Fatal(err)
	}
	channel := os.Getenv("CHANGES_CHANNEL")
	if channel == "" {
		channel = realtime.DefaultChangesChannel
	}
	cacheTTL := envDuration("TASKS_CACHE_TTL", 5*time.Minute)
	dedupeTTL := envDuration("DEDUPER_TTL", 24*time.Hour)

	store := storage.NewCache(base, rc, cacheTTL)
	// With a queue configured, read-model-updater relays events to Redis.
	var pub storage.Publisher = storage.NewRedisPublisher(rc, channel)
	if eventsQueue != "" {
		pub = base
	}
	deduper := api.NewRedisDeduper(rc, dedupeTTL)

	authn, err := auth.FromEnv()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PATCH, echo.DELETE},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
	}))
	e.Use(middleware.Decompress())

	logger := log.New()
	logger.SetLevel(log.GetLevel())
	api.Register(e, store, authn, deduper, pub, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return d
}
