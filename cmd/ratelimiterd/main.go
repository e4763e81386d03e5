package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distlimit/ratelimiter/internal/config"
	"github.com/distlimit/ratelimiter/internal/obs"
	"github.com/distlimit/ratelimiter/pkg/ratelimiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	registry := prometheus.NewRegistry()
	recorder := obs.NewPrometheusRecorder(registry)

	var redisClient redis.UniversalClient
	if cfg.Redis.Cluster {
		redisClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
	} else {
		addr := "127.0.0.1:6379"
		if len(cfg.Redis.Addrs) > 0 {
			addr = cfg.Redis.Addrs[0]
		}
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	client, err := ratelimiter.NewRedisClient(redisClient,
		ratelimiter.WithPrefix(cfg.Prefix),
		ratelimiter.WithTimeout(time.Duration(cfg.TimeoutMS)*time.Millisecond),
		ratelimiter.WithRecorder(recorder),
		ratelimiter.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("ratelimiterd: connecting to redis")
	}
	defer client.Close()

	buckets, err := cfg.ToBucketTypeDefs()
	if err != nil {
		logger.Fatal().Err(err).Msg("ratelimiterd: parsing bucket config")
	}
	if err := client.Configure(buckets); err != nil {
		logger.Fatal().Err(err).Msg("ratelimiterd: compiling bucket config")
	}

	h := &handlers{client: client, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/take", h.take)
	mux.HandleFunc("/take_elevated", h.takeElevated)
	mux.HandleFunc("/put", h.put)
	mux.HandleFunc("/get", h.get)
	mux.HandleFunc("/resetall", h.resetAll)
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("ratelimiterd: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("ratelimiterd: server exited")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("ratelimiterd: graceful shutdown failed")
	}
}

// handlers wires the HTTP surface onto a single shared Client, the way the
// teacher's example server wires a single shared RateLimiter onto its
// handler closures.
type handlers struct {
	client *ratelimiter.Client
	logger zerolog.Logger
}

type requestBody struct {
	Type           string                `json:"type"`
	Key            string                `json:"key"`
	Count          *int64                `json:"count"`
	CountAll       bool                  `json:"count_all"`
	ERLIsActiveKey string                `json:"erl_is_active_key"`
	AllowERL       bool                  `json:"allow_erl"`
	ConfigOverride *ratelimiter.RateExpr `json:"config_override"`
}

func (b requestBody) countArg() *ratelimiter.CountArg {
	switch {
	case b.CountAll:
		return ratelimiter.CountAll()
	case b.Count != nil:
		return ratelimiter.Count(*b.Count)
	default:
		return nil
	}
}

func decodeBody(r *http.Request) (requestBody, error) {
	var b requestBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		return requestBody{}, err
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeClientError(w http.ResponseWriter, err error) {
	var ve *ratelimiter.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "code": ve.Code})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func (h *handlers) take(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	res, err := h.client.Take(r.Context(), ratelimiter.TakeRequest{
		Type:           body.Type,
		Key:            body.Key,
		Count:          body.countArg(),
		ConfigOverride: body.ConfigOverride,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("type", body.Type).Msg("ratelimiterd: take failed")
		writeClientError(w, err)
		return
	}

	status := http.StatusOK
	if !res.Conformant {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, res)
}

func (h *handlers) takeElevated(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	res, err := h.client.TakeElevated(r.Context(), ratelimiter.TakeElevatedRequest{
		TakeRequest: ratelimiter.TakeRequest{
			Type:           body.Type,
			Key:            body.Key,
			Count:          body.countArg(),
			ConfigOverride: body.ConfigOverride,
		},
		ERLIsActiveKey: body.ERLIsActiveKey,
		AllowERL:       body.AllowERL,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("type", body.Type).Msg("ratelimiterd: take_elevated failed")
		writeClientError(w, err)
		return
	}

	status := http.StatusOK
	if !res.Conformant {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, res)
}

func (h *handlers) put(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	res, err := h.client.Put(r.Context(), ratelimiter.PutRequest{
		Type:           body.Type,
		Key:            body.Key,
		Count:          body.countArg(),
		ConfigOverride: body.ConfigOverride,
	})
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	key := r.URL.Query().Get("key")

	res, err := h.client.Get(r.Context(), ratelimiter.GetRequest{Type: typ, Key: key})
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// resetAll is an admin-only route in spirit; nothing here enforces that —
// deployments are expected to keep it off the public listener or gate it
// at a reverse proxy.
func (h *handlers) resetAll(w http.ResponseWriter, r *http.Request) {
	if err := h.client.ResetAll(r.Context()); err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
