// Command feed-proxy exposes the pagination core over HTTP: load-more,
// cancellation, status, and validation endpoints for one feed session,
// with optional Redis-backed state persistence.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lumina-social/feedcore/pkg/cache"
	"github.com/lumina-social/feedcore/pkg/feed"
	"github.com/lumina-social/feedcore/pkg/logging"
	"github.com/lumina-social/feedcore/pkg/orchestrator"
	"github.com/lumina-social/feedcore/pkg/prefetch"
	"github.com/lumina-social/feedcore/pkg/source"
	"github.com/lumina-social/feedcore/pkg/statemachine"
	"github.com/lumina-social/feedcore/pkg/validator"
)

func main() {
	cfg, err := loadConfig(getEnv("CONFIG_FILE", "feed-proxy.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	// Redis is optional: without it the state machine is memory-only and
	// pages are fetched from the upstream source on every request.
	var redisClient *redis.Client
	var store statemachine.Store
	var pageCache *cache.Manager
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_url", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		store = statemachine.NewRedisStore(redisClient)
		pageCache = cache.NewManager(redisClient, cache.DefaultTTL)
		logger.Info().Str("redis_url", cfg.RedisURL).Msg("Connected to Redis")
	}

	sourceClient, err := source.New(source.Config{
		BaseURL:   cfg.SourceURL,
		UserAgent: cfg.UserAgent,
		Cache:     pageCache,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create feed source")
	}

	state := feed.NewPaginationState()
	state.PostsPerPage = cfg.PostsPerPage

	orch, err := orchestrator.New(orchestrator.Options{
		Config:  orchestrator.DefaultConfig(),
		State:   state,
		Machine: statemachine.New(statemachine.Config{Store: store}),
		Fetch:   sourceClient.FetchPage,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create orchestrator")
	}

	// Warm the page cache in the background so early load-more requests
	// do not all pay the upstream round trip.
	if cfg.PreloadPages > 0 {
		pf := prefetch.New(sourceClient.FetchPage, prefetch.Config{
			PostsPerPage: cfg.PostsPerPage,
		})
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := pf.WarmPages(ctx, cfg.PreloadPages); err != nil {
				logger.Warn().Err(err).Int("preload_pages", cfg.PreloadPages).Msg("Page warm-up incomplete")
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed/load-more", loadMoreHandler(orch))
	mux.HandleFunc("/feed/cancel", cancelHandler(orch))
	mux.HandleFunc("/feed/status", statusHandler(orch))
	mux.HandleFunc("/feed/validate", validateHandler(orch))
	mux.HandleFunc("/feed/recover", recoverHandler(orch))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port
	logger.Info().
		Str("addr", addr).
		Str("source_url", cfg.SourceURL).
		Int("posts_per_page", cfg.PostsPerPage).
		Msg("Starting feed proxy")

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports readiness; with Redis configured it must answer a
// ping, otherwise the process is ready once it serves.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func loadMoreHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		result := orch.HandleLoadMore(r.Context())

		status := http.StatusOK
		switch {
		case result.Success:
		case errors.Is(result.Err, orchestrator.ErrRequestInProgress):
			status = http.StatusConflict
		case errors.Is(result.Err, orchestrator.ErrInvalidState):
			status = http.StatusUnprocessableEntity
		case errors.Is(result.Err, orchestrator.ErrCancelled):
			status = http.StatusRequestTimeout
		default:
			status = http.StatusBadGateway
		}

		writeJSON(w, status, result)
	}
}

func cancelHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		orch.CancelPendingRequests()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func statusHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := orch.StateSnapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"request":         orch.GetRequestStatus(),
			"machine_state":   orch.Machine().Current(),
			"strategy":        orch.DetermineStrategy(),
			"current_page":    state.CurrentPage,
			"loaded_posts":    len(state.AllPosts),
			"display_posts":   len(state.DisplayPosts),
			"paginated_posts": len(state.PaginatedPosts),
			"has_more":        state.HasMorePosts,
			"filters_active":  state.FiltersActive(),
		})
	}
}

func validateHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := orch.ValidateState()
		status := http.StatusOK
		if !report.IsValid {
			status = http.StatusConflict
		}
		writeJSON(w, status, report)
	}
}

func recoverHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// An empty or malformed body selects incremental repair.
		var opts validator.RecoveryOptions
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&opts)
		}

		result, err := orch.RecoverState(opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
