package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/api"
	"github.com/Nirovitsky/baltek-chat-gateway/internal/cache"
	"github.com/Nirovitsky/baltek-chat-gateway/internal/config"
	"github.com/Nirovitsky/baltek-chat-gateway/internal/middleware"
	"github.com/Nirovitsky/baltek-chat-gateway/internal/upstream"
	"github.com/Nirovitsky/baltek-chat-gateway/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	up := upstream.New(cfg.APIBase, cfg.ServiceToken)

	var respCache *cache.Cache
	if cfg.ValkeyAddr != "" {
		var err error
		respCache, err = cache.New(cfg.ValkeyAddr, cfg.ProxyCacheTTL, logger)
		if err != nil {
			logger.Error("valkey unavailable, proxy cache disabled", "error", err)
		} else {
			defer respCache.Close()
		}
	}

	registry := ws.NewRegistry()
	hub := ws.NewHub(registry)
	go hub.Run()

	relay := &ws.RelayHandler{
		Hub:      hub,
		Registry: registry,
		Log:      logger,
	}
	if cfg.ServiceToken != "" {
		relay.Persist = up
	}

	handler := &api.Handler{Upstream: up, Log: logger}
	if respCache != nil {
		handler.Cache = respCache
	}

	router := api.NewRouter(handler, relay)
	server := middleware.CORS(cfg.CORSOrigin)(router)

	logger.Info("gateway listening", "addr", cfg.Addr, "upstream", cfg.APIBase,
		"persist", cfg.ServiceToken != "", "cache", respCache != nil)
	if err := http.ListenAndServe(cfg.Addr, server); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
