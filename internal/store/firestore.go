package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/pagewise/analysisflow/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements StatusStore on Firestore. Status records live in
// one collection keyed by document id, with page records in a "pages"
// subcollection; file records live in their own collection. The processed
// counter uses firestore.Increment, a server-side atomic add.
type FirestoreStore struct {
	client             *firestore.Client
	filesCollection    string
	documentCollection string
}

// NewFirestoreStore wraps an existing Firestore client.
func NewFirestoreStore(client *firestore.Client, filesCollection, documentCollection string) *FirestoreStore {
	return &FirestoreStore{
		client:             client,
		filesCollection:    filesCollection,
		documentCollection: documentCollection,
	}
}

func (s *FirestoreStore) docRef(docID string) *firestore.DocumentRef {
	return s.client.Collection(s.documentCollection).Doc(docID)
}

func (s *FirestoreStore) pageRef(docID string, pageNumber int) *firestore.DocumentRef {
	return s.docRef(docID).Collection("pages").Doc(fmt.Sprintf("%05d", pageNumber))
}

// mapError translates Firestore transport errors into the store's sentinels.
func mapError(op string, err error) error {
	switch status.Code(err) {
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *FirestoreStore) CreateStatus(ctx context.Context, docID, tenantID string) (*models.DocumentStatusRecord, error) {
	now := time.Now().UTC()
	rec := &models.DocumentStatusRecord{
		DocumentID:    docID,
		TenantID:      tenantID,
		OverallStatus: models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.docRef(docID).Create(ctx, rec); err != nil {
		return nil, mapError("create status", err)
	}
	return rec, nil
}

func (s *FirestoreStore) SetTotalPages(ctx context.Context, docID string, n int) error {
	updates := []firestore.Update{
		{Path: "totalPages", Value: n},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if _, err := s.docRef(docID).Update(ctx, updates); err != nil {
		return mapError("set total pages", err)
	}
	return nil
}

func (s *FirestoreStore) RecordPage(ctx context.Context, rec *models.PageRecord) error {
	// Full-document Set: the page row becomes visible only as a whole.
	if _, err := s.pageRef(rec.DocumentID, rec.PageNumber).Set(ctx, rec); err != nil {
		return mapError("record page", err)
	}
	return nil
}

func (s *FirestoreStore) IncrementProcessed(ctx context.Context, docID string) (int, error) {
	updates := []firestore.Update{
		{Path: "processedPages", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if _, err := s.docRef(docID).Update(ctx, updates); err != nil {
		return 0, mapError("increment processed", err)
	}
	// Increment is applied server-side and does not return the new value; the
	// follow-up read may observe counts from concurrent writers, which only
	// makes completion detection earlier. The aggregator re-verifies against
	// the actual page rows either way.
	snap, err := s.docRef(docID).Get(ctx)
	if err != nil {
		return 0, mapError("increment processed read-back", err)
	}
	var rec models.DocumentStatusRecord
	if err := snap.DataTo(&rec); err != nil {
		return 0, fmt.Errorf("increment processed decode: %w", err)
	}
	return rec.ProcessedPages, nil
}

func (s *FirestoreStore) IncrementFailed(ctx context.Context, docID string) error {
	updates := []firestore.Update{
		{Path: "failedPages", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if _, err := s.docRef(docID).Update(ctx, updates); err != nil {
		return mapError("increment failed", err)
	}
	return nil
}

func statusUpdates(stat string, fields *StatusFields) []firestore.Update {
	updates := []firestore.Update{
		{Path: "overallStatus", Value: stat},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if stat == models.StatusCompleted {
		updates = append(updates, firestore.Update{Path: "completedAt", Value: firestore.ServerTimestamp})
	}
	if fields == nil {
		return updates
	}
	if fields.ResultKey != "" {
		updates = append(updates, firestore.Update{Path: "resultKey", Value: fields.ResultKey})
	}
	if fields.ErrorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: fields.ErrorDetails})
	}
	return updates
}

func (s *FirestoreStore) UpdateOverallStatus(ctx context.Context, docID, stat string, fields *StatusFields) error {
	if _, err := s.docRef(docID).Update(ctx, statusUpdates(stat, fields)); err != nil {
		return mapError("update overall status", err)
	}
	return nil
}

func (s *FirestoreStore) TransitionStatus(ctx context.Context, docID, from, to string, fields *StatusFields) error {
	ref := s.docRef(docID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var rec models.DocumentStatusRecord
		if err := snap.DataTo(&rec); err != nil {
			return err
		}
		if rec.OverallStatus != from {
			return ErrPreconditionFailed
		}
		return tx.Update(ref, statusUpdates(to, fields))
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPreconditionFailed) {
		return fmt.Errorf("transition %s->%s: %w", from, to, ErrPreconditionFailed)
	}
	return mapError("transition status", err)
}

func (s *FirestoreStore) GetDocument(ctx context.Context, docID string) (*models.DocumentStatusRecord, error) {
	snap, err := s.docRef(docID).Get(ctx)
	if err != nil {
		return nil, mapError("get document", err)
	}
	var rec models.DocumentStatusRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("get document decode: %w", err)
	}
	return &rec, nil
}

func (s *FirestoreStore) GetPages(ctx context.Context, docID string) ([]*models.PageRecord, error) {
	it := s.docRef(docID).Collection("pages").OrderBy("pageNumber", firestore.Asc).Documents(ctx)
	var pages []*models.PageRecord
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapError("get pages", err)
		}
		var rec models.PageRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("get pages decode: %w", err)
		}
		pages = append(pages, &rec)
	}
	return pages, nil
}

func (s *FirestoreStore) ScanReadyForAggregation(ctx context.Context) ([]*models.DocumentStatusRecord, error) {
	// Firestore cannot compare two fields server-side, so the query narrows
	// to PROCESSING records with a known total and the processed == total
	// check happens here.
	it := s.client.Collection(s.documentCollection).
		Where("overallStatus", "==", models.StatusProcessing).
		Where("totalPages", ">", 0).
		Documents(ctx)
	var ready []*models.DocumentStatusRecord
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapError("scan ready", err)
		}
		var rec models.DocumentStatusRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("scan ready decode: %w", err)
		}
		if rec.ReadyForAggregation() {
			ready = append(ready, &rec)
		}
	}
	return ready, nil
}

func (s *FirestoreStore) CreateFile(ctx context.Context, rec *models.FileRecord) error {
	if _, err := s.client.Collection(s.filesCollection).Doc(rec.DocumentID).Create(ctx, rec); err != nil {
		return mapError("create file", err)
	}
	return nil
}

func (s *FirestoreStore) UpdateFileStatus(ctx context.Context, docID, stat string) error {
	updates := []firestore.Update{
		{Path: "status", Value: stat},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if _, err := s.client.Collection(s.filesCollection).Doc(docID).Update(ctx, updates); err != nil {
		return mapError("update file status", err)
	}
	return nil
}

func (s *FirestoreStore) GetFile(ctx context.Context, docID string) (*models.FileRecord, error) {
	snap, err := s.client.Collection(s.filesCollection).Doc(docID).Get(ctx)
	if err != nil {
		return nil, mapError("get file", err)
	}
	var rec models.FileRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("get file decode: %w", err)
	}
	return &rec, nil
}

func (s *FirestoreStore) FindFileByHash(ctx context.Context, fileHash string) (*models.FileRecord, error) {
	docs, err := s.client.Collection(s.filesCollection).
		Where("fileHash", "==", fileHash).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, mapError("find file by hash", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("find file by hash: %w", ErrNotFound)
	}
	var rec models.FileRecord
	if err := docs[0].DataTo(&rec); err != nil {
		return nil, fmt.Errorf("find file by hash decode: %w", err)
	}
	return &rec, nil
}

func (s *FirestoreStore) ListFilesByTenant(ctx context.Context, tenantID string, limit int) ([]*models.FileRecord, error) {
	q := s.client.Collection(s.filesCollection).
		Where("tenantId", "==", tenantID).
		OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	it := q.Documents(ctx)
	var files []*models.FileRecord
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapError("list files", err)
		}
		var rec models.FileRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("list files decode: %w", err)
		}
		files = append(files, &rec)
	}
	return files, nil
}
