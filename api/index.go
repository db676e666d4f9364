package handler

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gap_strategy_backend/app"
	"gap_strategy_backend/config"
)

var (
	once     sync.Once
	router   http.Handler
	buildErr error
)

// build wires the app once per instance. There is no scheduler here: each
// /api/gaps request refreshes a stale cache in the background instead.
func build() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		buildErr = err
		logger.Error().Err(err).Msg("Failed to load configuration")
		return
	}

	gin.SetMode(gin.ReleaseMode)

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		buildErr = err
		logger.Error().Err(err).Msg("Failed to build gap scanner")
		return
	}
	router = a.Router(ctx)
}

// Handler is the Vercel serverless function handler
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(build)
	if buildErr != nil {
		http.Error(w, `{"error":"service unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	router.ServeHTTP(w, r)
}
