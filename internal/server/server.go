package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/newsfeed/internal/metrics"
	"reddot-watch/newsfeed/internal/server/api"
	"reddot-watch/newsfeed/internal/store"
)

// Options configures the HTTP handler.
type Options struct {
	Store  store.Reader
	APIKey string
	// Trigger enables POST /v1/ingest when set.
	Trigger    api.Trigger
	RunTimeout time.Duration
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// apiKeyMiddleware checks for the X-API-Key header and validates it against the provided key.
// If key is empty, it allows all requests.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			reqApiKey := r.Header.Get("X-API-Key")
			if reqApiKey == "" {
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}

			if reqApiKey != apiKey {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewHandler sets up routes and the logging middleware chain. /health and
// /metrics stay outside API key authentication.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger.With().Str("service", "newsfeed-api").Logger()

	posts := api.NewPostsHandler(opts.Store)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /v1/posts", posts.GetPosts)
	apiMux.HandleFunc("GET /v1/posts/all", posts.GetAllPosts)
	apiMux.HandleFunc("GET /v1/categories", posts.GetCategories)
	apiMux.HandleFunc("GET /v1/events", posts.GetEvents)
	if opts.Trigger != nil {
		ingest := api.NewIngestHandler(opts.Trigger, opts.RunTimeout, logger)
		apiMux.HandleFunc("POST /v1/ingest", ingest.Ingest)
		logger.Info().Msg("On-demand ingestion enabled")
	}

	var apiHandler http.Handler = apiMux
	if opts.APIKey != "" {
		apiHandler = apiKeyMiddleware(opts.APIKey)(apiHandler)
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Info().Msg("API key authentication disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", apiHandler)
	mux.HandleFunc("GET /health", healthCheckHandler(opts.Store))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	// Set up middleware chain for logging and request tracking
	h := hlog.NewHandler(logger)(mux)
	h = hlog.MethodHandler("method")(h)
	h = hlog.URLHandler("url")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.UserAgentHandler("user_agent")(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		idReq, _ := hlog.IDFromRequest(r)

		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("req_id", idReq.String()).
			Msg("HTTP Request")
	})(h)

	return h
}

// Run serves handler on listenAddr until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, handler http.Handler, listenAddr string, logger zerolog.Logger) error {
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server failed to start")
		return err

	case <-ctx.Done():
		logger.Info().Msg("Shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler answers 200 when the store responds to a ping.
func healthCheckHandler(s store.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("Health check failed")
			http.Error(w, api.UnavailableMessage, http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		n, err := w.Write([]byte("OK"))
		if err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		} else {
			log.Debug().Int("bytes_written", n).Msg("Health check response sent")
		}
	}
}
