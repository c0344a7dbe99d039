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
	"github.com/pagewise/analysisflow/internal/queue"
	"github.com/pagewise/analysisflow/internal/services"
	"github.com/pagewise/analysisflow/internal/store"
)

var (
	ingestorInstance *services.Ingestor
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("IngestUpload", ingestUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func newIngestor(ctx context.Context) (*services.Ingestor, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucket := gcp.GetEnv("PIPELINE_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("PIPELINE_BUCKET environment variable must be set")
	}
	topicID := gcp.GetEnv("SUBMIT_TOPIC", "document-submissions")

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	pubsubClient, err := gcp.NewPubSubClient(ctx, projectID)
	if err != nil {
		return nil, err
	}

	statusStore := store.NewFirestoreStore(firestoreClient,
		gcp.GetEnv("FILES_COLLECTION", "files"),
		gcp.GetEnv("DOCUMENTS_COLLECTION", "documents"),
	)
	blobs := blob.NewGCSStore(storageClient, bucket)
	submitLog := queue.NewPubSubLog(pubsubClient, topicID, "")

	slog.Info("Upload ingestor initialized.", "bucket", bucket, "topic", topicID)
	return services.NewIngestor(statusStore, blobs, submitLog), nil
}

func ingestUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestorInstance, initErr = newIngestor(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return ingestorInstance.Process(ctx, gcsEvent)
}
