package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/sourcebridge-backend/internal/data/db"
	"github.com/yungbote/sourcebridge-backend/internal/data/repos/sources"
	"github.com/yungbote/sourcebridge-backend/internal/domain"
	"github.com/yungbote/sourcebridge-backend/internal/ingestion/pipeline"
	"github.com/yungbote/sourcebridge-backend/internal/platform/envutil"
	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
	"github.com/yungbote/sourcebridge-backend/internal/platform/openai"
	"github.com/yungbote/sourcebridge-backend/internal/platform/qdrant"
	"github.com/yungbote/sourcebridge-backend/internal/summarize"
)

func main() {
	// Logger
	logMode := envutil.Str("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	sourceRepo := sources.NewSourceRepo(thePG, log)
	sourceFileRepo := sources.NewSourceFileRepo(thePG, log)
	sourceDbRepo := sources.NewSourceDbRepo(thePG, log)

	// Services
	log.Info("Setting up services...")
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	qdrantCfg, err := qdrant.ConfigFromEnv()
	if err != nil {
		log.Error("Could not load vector store config", "error", err)
		os.Exit(1)
	}
	store, err := qdrant.NewStore(log, qdrantCfg, openaiClient)
	if err != nil {
		log.Error("Could not init vector store", "error", err)
		os.Exit(1)
	}
	summarizer := summarize.New(log, openaiClient)

	pipelineCfg, err := pipeline.ConfigFromEnv()
	if err != nil {
		log.Error("Could not load pipeline config", "error", err)
		os.Exit(1)
	}
	svc := pipeline.NewService(log, pipelineCfg, sourceRepo, sourceFileRepo, sourceDbRepo, store, summarizer)

	pollInterval := envutil.Dur("WORKER_POLL_INTERVAL", 5*time.Second)
	claimLimit := envutil.Int("WORKER_CLAIM_LIMIT", 10)

	log.Info("Ingestion worker started", "poll_interval", pollInterval, "claim_limit", claimLimit)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Ingestion worker shutting down")
			return
		case <-ticker.C:
			pending, err := sourceRepo.ListByStatus(ctx, domain.SourceStatusCreated, claimLimit)
			if err != nil {
				log.Warn("Listing pending sources failed", "error", err)
				continue
			}
			for _, src := range pending {
				if err := svc.Run(ctx, src.ID); err != nil {
					log.Warn("Source ingestion failed", "source_id", src.ID, "error", err)
				}
			}
		}
	}
}
