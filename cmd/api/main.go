package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"litagent/internal/api"
	"litagent/internal/app"
	"litagent/internal/config"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.LoadFile(os.Getenv("LITAGENT_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = a.Close(context.Background()) }()

	var wc api.WorkflowClient
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		a.Logger.Warn("temporal unavailable, durable library growth disabled", zap.String("address", cfg.TemporalAddress), zap.Error(err))
	} else {
		defer tc.Close()
		wc = tc
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewServer(cfg, a.Service, wc, a.Logger.Named("api")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Logger.Info("litagent api listening", zap.String("addr", cfg.APIAddr), zap.String("llm_providers", cfg.LLMProviders), zap.String("embed_providers", cfg.EmbedProviders))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Fatal("api server stopped", zap.Error(err))
	}
}
