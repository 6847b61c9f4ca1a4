package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gallery-pager/pkg/cache"
	"github.com/Sternrassler/gallery-pager/pkg/client"
	"github.com/Sternrassler/gallery-pager/pkg/decode"
	"github.com/Sternrassler/gallery-pager/pkg/logging"
	"github.com/Sternrassler/gallery-pager/pkg/metrics"
	"github.com/Sternrassler/gallery-pager/pkg/pagination"
	"github.com/Sternrassler/gallery-pager/pkg/ratelimit"
	"github.com/Sternrassler/gallery-pager/pkg/store"
)

// requestIDHeader carries the per-request correlation id.
const requestIDHeader = "X-Request-ID"

// maxItemBytes caps an uploaded gallery item body.
const maxItemBytes = 32 << 20

type config struct {
	Port              string
	DBPath            string
	RemoteURL         string
	RedisURL          string
	CacheTTL          time.Duration
	DecodeConcurrency int
	DecodeTimeout     time.Duration
	LogLevel          logging.LogLevel
	LogPretty         bool
}

func loadConfig() (config, error) {
	cfg := config{
		Port:      getEnv("PORT", "8080"),
		DBPath:    getEnv("GALLERY_DB", "gallery.db"),
		RemoteURL: os.Getenv("GALLERY_REMOTE_URL"),
		RedisURL:  os.Getenv("REDIS_URL"),
		LogLevel:  logging.ParseLevel(getEnv("LOG_LEVEL", "info")),
	}

	var err error
	if cfg.CacheTTL, err = time.ParseDuration(getEnv("CACHE_TTL", cache.DefaultTTL.String())); err != nil {
		return config{}, fmt.Errorf("CACHE_TTL: %w", err)
	}
	if cfg.DecodeConcurrency, err = strconv.Atoi(getEnv("DECODE_CONCURRENCY", "0")); err != nil {
		return config{}, fmt.Errorf("DECODE_CONCURRENCY: %w", err)
	}
	if cfg.DecodeTimeout, err = time.ParseDuration(getEnv("DECODE_TIMEOUT", "10s")); err != nil {
		return config{}, fmt.Errorf("DECODE_TIMEOUT: %w", err)
	}
	if cfg.LogPretty, err = strconv.ParseBool(getEnv("LOG_PRETTY", "false")); err != nil {
		return config{}, fmt.Errorf("LOG_PRETTY: %w", err)
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Service = "gallery-server"
	logCfg.Pretty = cfg.LogPretty
	logger := logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := buildServer(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start gallery server")
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("addr", httpServer.Addr).
		Str("source", srv.source).
		Bool("cache", srv.cache != nil).
		Msg("Starting gallery server")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Gallery server stopped")
}

// buildServer wires the configured page source, the optional Redis cache and
// the loader.
func buildServer(ctx context.Context, cfg config) (*server, func(), error) {
	srv := &server{
		decoder: decode.NewBase64Decoder(),
		logger:  logging.NewLogger("gallery-server"),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		closers = append(closers, func() { redisClient.Close() })
		srv.readiness = append(srv.readiness, readinessCheck{name: "redis", check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	var fetcher pagination.Fetcher
	if cfg.RemoteURL != "" {
		clientCfg := client.DefaultConfig(cfg.RemoteURL)
		if redisClient != nil {
			clientCfg.RateLimiter = ratelimit.NewTracker(redisClient, logging.NewLogger("gallery-ratelimit"))
		}
		remote, err := client.New(clientCfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("create remote gallery client: %w", err)
		}
		fetcher = remote
		srv.source = "remote"
	} else {
		galleryStore, err := store.NewSQLiteStore(ctx, cfg.DBPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { galleryStore.Close() })
		fetcher = galleryStore
		srv.store = galleryStore
		srv.source = "sqlite"
		srv.readiness = append(srv.readiness, readinessCheck{name: "sqlite", check: galleryStore.Ping})
	}

	if redisClient != nil {
		srv.cache = cache.NewManager(redisClient)
		fetcher = cache.NewCachedFetcher(fetcher, srv.cache, srv.source, cfg.CacheTTL)
	}

	srv.loader = pagination.NewLoader(fetcher, srv.decoder, pagination.Config{
		MaxConcurrency: cfg.DecodeConcurrency,
		DecodeTimeout:  cfg.DecodeTimeout,
	})
	return srv, cleanup, nil
}

// redisOptions accepts both "host:port" and "redis://" URLs.
func redisOptions(redisURL string) (*redis.Options, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: redisURL}, nil
}

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// server holds the HTTP handlers of the gallery front.
type server struct {
	loader    *pagination.Loader
	decoder   *decode.Base64Decoder
	store     *store.SQLiteStore // nil for a remote source
	cache     *cache.Manager     // nil without Redis
	source    string
	readiness []readinessCheck
	logger    zerolog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /gallery/page", s.pageHandler)
	mux.HandleFunc("GET /gallery/refresh-key", s.refreshKeyHandler)
	mux.HandleFunc("POST /gallery/refresh", s.refreshHandler)
	mux.HandleFunc("POST /gallery/items", s.createItemHandler)
	return s.withRequestID(mux)
}

// withRequestID tags every request with an id, reusing a client supplied one.
func (s *server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		logger := s.logger.With().Str("request_id", requestID).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, rc := range s.readiness {
		if err := rc.check(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("dependency", rc.name).Msg("Readiness check failed")
			http.Error(w, fmt.Sprintf("%s not ready", rc.name), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

type itemJSON struct {
	ID     int64 `json:"id"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
}

type pageJSON struct {
	Items   []itemJSON `json:"items"`
	PrevKey *int       `json:"prev_key"`
	NextKey *int       `json:"next_key"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func (s *server) pageHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseLoadRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: err.Error()})
		return
	}

	outcome, err := s.loader.Load(r.Context(), req)
	if err != nil {
		// The client went away; nobody reads the response.
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Page request cancelled")
		return
	}

	if !outcome.IsSuccess() {
		status := http.StatusBadGateway
		if errors.Is(outcome.Err, pagination.ErrInvalidKey) || errors.Is(outcome.Err, pagination.ErrInvalidSize) {
			status = http.StatusBadRequest
		}
		zerolog.Ctx(r.Context()).Warn().Err(outcome.Err).Int("status", status).Msg("Page load failed")
		writeJSON(w, status, errorJSON{Error: outcome.Err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, toPageJSON(outcome.Page))
}

// parseLoadRequest reads key and size from the query. A missing key loads the
// first page, a missing size uses PagePayloadSize.
func parseLoadRequest(r *http.Request) (pagination.LoadRequest, error) {
	query := r.URL.Query()
	req := pagination.LoadRequest{Size: pagination.PagePayloadSize}

	if raw := query.Get("key"); raw != "" {
		key, err := strconv.Atoi(raw)
		if err != nil {
			return pagination.LoadRequest{}, fmt.Errorf("invalid key %q", raw)
		}
		req.Key = pagination.Key(key)
	}
	if raw := query.Get("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return pagination.LoadRequest{}, fmt.Errorf("invalid size %q", raw)
		}
		req.Size = size
	}
	return req, nil
}

func toPageJSON(page *pagination.Page) pageJSON {
	out := pageJSON{Items: make([]itemJSON, 0, len(page.Items))}
	for _, item := range page.Items {
		bounds := item.Image.Bounds()
		out.Items = append(out.Items, itemJSON{ID: item.ID, Width: bounds.Dx(), Height: bounds.Dy()})
	}
	if page.PrevKey != nil {
		prev := int(*page.PrevKey)
		out.PrevKey = &prev
	}
	if page.NextKey != nil {
		next := int(*page.NextKey)
		out.NextKey = &next
	}
	return out
}

func (s *server) refreshKeyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"key": int(s.loader.RefreshKey())})
}

// refreshHandler drops cached windows of this source and returns the key a
// refresh restarts from.
func (s *server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	invalidated, err := s.invalidate(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"key":         int(s.loader.RefreshKey()),
		"invalidated": invalidated,
	})
}

func (s *server) invalidate(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	n, err := s.cache.Invalidate(ctx, s.source)
	if err != nil {
		return 0, fmt.Errorf("invalidate cache: %w", err)
	}
	zerolog.Ctx(ctx).Info().Int("keys", n).Str("source", s.source).Msg("Gallery cache invalidated")
	return n, nil
}

type createItemJSON struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

// createItemHandler stores a new generated image. Only available for the
// SQLite source.
func (s *server) createItemHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotImplemented, errorJSON{Error: "gallery source is read-only"})
		return
	}

	var body createItemJSON
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxItemBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: fmt.Sprintf("invalid body: %v", err)})
		return
	}

	imgCfg, _, err := s.decoder.DecodeConfig(body.Image)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: err.Error()})
		return
	}

	id, err := s.store.Insert(r.Context(), store.GalleryItem{Image: body.Image, Prompt: body.Prompt})
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to store gallery item")
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "failed to store item"})
		return
	}

	// New items shift every window; cached pages are stale now.
	if _, err := s.invalidate(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Cache invalidation after insert failed")
	}

	writeJSON(w, http.StatusCreated, itemJSON{ID: id, Width: imgCfg.Width, Height: imgCfg.Height})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
