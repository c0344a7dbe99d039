package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/models"
	"github.com/pagewise/analysisflow/internal/queue"
	"github.com/pagewise/analysisflow/internal/store"
)

// Ingestor registers a fresh upload: it hashes the object for duplicate
// suppression, creates the file and status records, stages the source blob
// under the tenant/document namespace, and publishes the submit event that
// hands the document to the chunk workers.
type Ingestor struct {
	store  store.StatusStore
	blobs  blob.Store
	log    queue.Publisher
	mintID func() string
}

// NewIngestor creates an Ingestor.
func NewIngestor(s store.StatusStore, b blob.Store, l queue.Publisher) *Ingestor {
	return &Ingestor{store: s, blobs: b, log: l, mintID: uuid.NewString}
}

// Process handles one storage upload notification. Upload objects arrive at
// uploads/{tenant}/{filename}; everything else is ignored.
func (i *Ingestor) Process(ctx context.Context, ev models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", ev.Bucket, "gcsObject", ev.Name)

	tenantID, filename, ok := parseUploadKey(ev.Name)
	if !ok {
		logCtx.Info("Object outside the uploads prefix. Ignoring.")
		return nil
	}
	logCtx = logCtx.With("tenantId", tenantID)
	logCtx.Info("Processing new upload.")

	data, err := i.blobs.Get(ctx, ev.Name)
	if err != nil {
		logCtx.Error("Failed to read uploaded object", "error", err)
		return fmt.Errorf("failed to read upload %s: %w", ev.Name, err)
	}

	hash := sha256.Sum256(data)
	fileHash := hex.EncodeToString(hash[:])
	logCtx = logCtx.With("fileHash", fileHash)

	if existing, err := i.store.FindFileByHash(ctx, fileHash); err == nil {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existing.DocumentID)
		return nil // Clean exit for a duplicate.
	} else if !errors.Is(err, store.ErrNotFound) {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}

	docID := i.mintID()
	logCtx = logCtx.With("documentId", docID)

	// Conditional write: a redelivered notification that already staged this
	// object skips instead of rewriting it.
	blobKey := fmt.Sprintf("%s/%s/source%s", tenantID, docID, path.Ext(filename))
	if err := i.blobs.PutIfAbsent(ctx, blobKey, data, "application/pdf"); err != nil {
		logCtx.Error("Failed to stage source blob", "error", err)
		return fmt.Errorf("failed to stage source for %s: %w", docID, err)
	}

	now := time.Now().UTC()
	fileRec := &models.FileRecord{
		DocumentID:       docID,
		TenantID:         tenantID,
		OriginalFilename: filename,
		SizeBytes:        int64(len(data)),
		FileHash:         fileHash,
		BlobKey:          blobKey,
		Mode:             models.ModeAsync,
		Status:           models.FileStatusUploaded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := i.store.CreateFile(ctx, fileRec); err != nil {
		logCtx.Error("Failed to create file record", "error", err)
		return err
	}

	if _, err := i.store.CreateStatus(ctx, docID, tenantID); err != nil {
		// The AlreadyExists boundary: a redelivered notification that already
		// registered this document must not publish a second submission.
		if errors.Is(err, store.ErrAlreadyExists) {
			logCtx.Info("Status record already exists. Skipping republish.")
			return nil
		}
		logCtx.Error("Failed to create status record", "error", err)
		return err
	}
	logCtx.Info("Registered document.")

	submitEv := &models.DocumentSubmittedEvent{
		DocumentID: docID,
		TenantID:   tenantID,
		BlobKey:    blobKey,
		SizeBytes:  int64(len(data)),
	}
	if err := i.log.Publish(ctx, submitEv); err != nil {
		logCtx.Error("Failed to publish submit event", "error", err)
		return fmt.Errorf("failed to publish submission for %s: %w", docID, err)
	}

	logCtx.Info("Hand-off to submit log complete.")
	return nil
}

// parseUploadKey splits uploads/{tenant}/{filename...} into its parts.
func parseUploadKey(objectName string) (tenantID, filename string, ok bool) {
	parts := strings.SplitN(objectName, "/", 3)
	if len(parts) != 3 || parts[0] != "uploads" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
