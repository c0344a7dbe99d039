// status-api is the read-only surface over the pipeline's output. It serves
// job status, tenant job listings, and manifest downloads; it never mutates
// the store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"cloud.google.com/go/storage"
	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/gcp"
	"github.com/pagewise/analysisflow/internal/services"
	"github.com/pagewise/analysisflow/internal/store"
)

var (
	queryInstance *services.StatusQuery
	once          sync.Once
	initErr       error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("StatusAPI", handleStatusAPI)
}

// main is required by the Go Functions Framework.
func main() {}

func newQuery(ctx context.Context) (*services.StatusQuery, error) {
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
	return services.NewStatusQuery(statusStore, blob.NewGCSStore(storageClient, bucket)), nil
}

func handleStatusAPI(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		queryInstance, initErr = newQuery(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Status API initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	// Routes: /jobs?tenant=..., /jobs/{id}, /jobs/{id}/result
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "jobs":
		listJobs(w, r)
	case len(parts) == 2 && parts[0] == "jobs":
		jobStatus(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "result":
		jobResult(w, r, parts[1])
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
	}
}

func listJobs(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		http.Error(w, "Bad Request: tenant query parameter is required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	files, err := queryInstance.ListJobs(r.Context(), tenantID, limit)
	if err != nil {
		slog.Error("Failed to list jobs", "tenantId", tenantID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, files)
}

func jobStatus(w http.ResponseWriter, r *http.Request, docID string) {
	rec, err := queryInstance.JobStatus(r.Context(), docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to read job status", "documentId", docID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

func jobResult(w http.ResponseWriter, r *http.Request, docID string) {
	data, err := queryInstance.Result(r.Context(), docID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, blob.ErrNotFound):
			http.Error(w, "Not Found", http.StatusNotFound)
		case errors.Is(err, services.ErrResultNotReady):
			http.Error(w, "Not Found: result not ready", http.StatusNotFound)
		default:
			slog.Error("Failed to read result", "documentId", docID, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write response", "documentId", docID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
