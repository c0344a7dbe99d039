package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"cloud.google.com/go/storage"
	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/gcp"
	"github.com/pagewise/analysisflow/internal/models"
	"github.com/pagewise/analysisflow/internal/services"
	"github.com/pagewise/analysisflow/internal/store"
)

var (
	watcherInstance *services.CompletionWatcher
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("TriggerCompletion", triggerCompletion)
}

// main is required by the Go Functions Framework.
func main() {}

func newWatcher(ctx context.Context) (*services.CompletionWatcher, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucket := gcp.GetEnv("PIPELINE_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("PIPELINE_BUCKET environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	statusStore := store.NewFirestoreStore(firestoreClient,
		gcp.GetEnv("FILES_COLLECTION", "files"),
		gcp.GetEnv("DOCUMENTS_COLLECTION", "documents"),
	)
	blobs := blob.NewGCSStore(storageClient, bucket)
	aggregator := services.NewAggregator(statusStore, blobs)

	// The poll interval is unused on the push path; this process only ever
	// calls HandleChange.
	return services.NewCompletionWatcher(statusStore, aggregator, 0), nil
}

// triggerCompletion is the push path of completion detection: one change-feed
// entry per status record mutation, delivered at least once.
func triggerCompletion(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		watcherInstance, initErr = newWatcher(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var change models.StatusChangeEvent
	if err := json.Unmarshal(e.Data(), &change); err != nil {
		slog.Error("Failed to unmarshal change event", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return watcherInstance.HandleChange(ctx, &change)
}
