// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/tmchess/tmchess/internal/auth"
	"github.com/tmchess/tmchess/internal/cache"
	"github.com/tmchess/tmchess/internal/catalog"
	"github.com/tmchess/tmchess/internal/config"
	"github.com/tmchess/tmchess/internal/game"
	"github.com/tmchess/tmchess/internal/handlers"
	"github.com/tmchess/tmchess/internal/middleware"
	"github.com/tmchess/tmchess/internal/rules"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	if err := auth.Init(); err != nil {
		log.Fatalf("auth init: %v", err)
	}

	// Redis is optional: without it the pack cache and match historian
	// queue are simply skipped.
	if err := cache.Connect(cfg.RedisAddr, cfg.RedisDB); err != nil {
		logger.Warnf("Redis unavailable, pack cache and historian queue disabled: %v", err)
	}

	assets := catalog.NewService(cfg.CatalogBaseURL, logger)
	co := game.NewCoordinator(rules.NewEngine(), assets, logger)
	if cfg.DefaultMappackID != 0 {
		co.DefaultMappackID = cfg.DefaultMappackID
	}

	mux := http.NewServeMux()

	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.WSHandler(logger, co, cfg.RequiredClientVersion),
	)))
	mux.Handle("/health", middleware.LogMiddleware(logger)(handlers.HealthHandler()))
	mux.Handle("/stats", middleware.LogMiddleware(logger)(handlers.StatsHandler(logger, co)))

	logger.Infof("Running on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
