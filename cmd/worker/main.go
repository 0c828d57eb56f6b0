package main

import (
	"context"
	"log"
	"os"

	"litagent/internal/activities"
	"litagent/internal/app"
	"litagent/internal/config"
	"litagent/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.LoadFile(os.Getenv("LITAGENT_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}
	a, err := app.New(context.Background(), cfg, app.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = a.Close(context.Background()) }()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		a.Logger.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(activities.Deps{
		Papers:    a.Arxiv,
		Ingester:  a.Pipeline,
		Store:     a.Store,
		ReportDir: cfg.ReportDir,
	}, a.Logger.Named("activities")))

	a.Logger.Info("litagent worker listening",
		zap.String("address", cfg.TemporalAddress),
		zap.String("queue", cfg.TemporalTaskQueue),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders),
	)
	if err := w.Run(worker.InterruptCh()); err != nil {
		a.Logger.Fatal("worker stopped", zap.Error(err))
	}
}
