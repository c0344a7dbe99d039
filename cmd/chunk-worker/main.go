// chunk-worker is the pull-based page processing daemon. Many instances run
// side by side against the same submit subscription; the atomic processed
// counter in the status store is what makes that safe.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pagewise/analysisflow/internal/analysis"
	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/extract"
	"github.com/pagewise/analysisflow/internal/gcp"
	"github.com/pagewise/analysisflow/internal/queue"
	"github.com/pagewise/analysisflow/internal/services"
	"github.com/pagewise/analysisflow/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil && err != context.Canceled {
		slog.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucket := gcp.GetEnv("PIPELINE_BUCKET", "")
	if bucket == "" {
		return fmt.Errorf("PIPELINE_BUCKET environment variable must be set")
	}
	subscriptionID := gcp.GetEnv("SUBMIT_SUBSCRIPTION", "document-submissions-workers")

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return err
	}
	defer firestoreClient.Close()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	defer storageClient.Close()

	pubsubClient, err := gcp.NewPubSubClient(ctx, projectID)
	if err != nil {
		return err
	}
	defer pubsubClient.Close()

	vertexClient, err := gcp.NewVertexClient(ctx, projectID, gcp.GetEnv("VERTEX_AI_REGION", "us-central1"))
	if err != nil {
		return err
	}
	defer vertexClient.Close()

	statusStore := store.NewFirestoreStore(firestoreClient,
		gcp.GetEnv("FILES_COLLECTION", "files"),
		gcp.GetEnv("DOCUMENTS_COLLECTION", "documents"),
	)
	blobs := blob.NewGCSStore(storageClient, bucket)
	submitLog := queue.NewPubSubLog(pubsubClient, "", subscriptionID)
	analyzer := analysis.NewVertexAnalyzer(vertexClient)

	cfg := services.DefaultWorkerConfig()
	cfg.PageConcurrency = envInt("PAGE_CONCURRENCY", cfg.PageConcurrency)
	cfg.MaxAnalysisAttempts = envInt("MAX_ANALYSIS_ATTEMPTS", cfg.MaxAnalysisAttempts)
	cfg.InterPageDelay = time.Duration(envInt("INTER_PAGE_DELAY_MS", 0)) * time.Millisecond

	worker := services.NewChunkWorker(statusStore, blobs, extract.NewPDFExtractor(), analyzer, cfg)

	slog.Info("Chunk worker started.",
		"subscription", subscriptionID,
		"pageConcurrency", cfg.PageConcurrency,
	)
	return submitLog.Receive(ctx, worker.Handler())
}

func envInt(key string, fallback int) int {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring non-numeric environment value.", "key", key, "value", raw)
		return fallback
	}
	return n
}
