// completion-poller is the poll fallback for completion detection: it
// periodically scans the status store for documents whose counter has caught
// up with their total and hands them to the aggregator. It runs alongside the
// push trigger; duplicate triggers are expected and harmless.
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
	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/gcp"
	"github.com/pagewise/analysisflow/internal/services"
	"github.com/pagewise/analysisflow/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil && err != context.Canceled {
		slog.Error("Poller exited with error", "error", err)
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

	interval := 10 * time.Second
	if raw := gcp.GetEnv("POLL_INTERVAL_SECONDS", ""); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}

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

	statusStore := store.NewFirestoreStore(firestoreClient,
		gcp.GetEnv("FILES_COLLECTION", "files"),
		gcp.GetEnv("DOCUMENTS_COLLECTION", "documents"),
	)
	blobs := blob.NewGCSStore(storageClient, bucket)
	aggregator := services.NewAggregator(statusStore, blobs)
	watcher := services.NewCompletionWatcher(statusStore, aggregator, interval)

	watcher.Start(ctx)
	<-ctx.Done()
	watcher.Stop()
	slog.Info("Completion poller shut down.")
	return ctx.Err()
}
