package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pagewise/analysisflow/internal/models"
)

// MemoryStore is an in-process StatusStore used by tests and local runs. It
// honors the same atomicity contract as the Firestore implementation: every
// operation is atomic at the single-record level under one mutex.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string]*models.DocumentStatusRecord
	pages map[string]map[int]*models.PageRecord
	files map[string]*models.FileRecord

	// visiblePages optionally hides page rows from readers to simulate the
	// write-visibility lag between the counter and the rows it counts.
	visiblePages map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:         make(map[string]*models.DocumentStatusRecord),
		pages:        make(map[string]map[int]*models.PageRecord),
		files:        make(map[string]*models.FileRecord),
		visiblePages: make(map[string]int),
	}
}

// SetVisiblePageLimit makes GetPages return at most n rows for the document,
// regardless of how many were written. A negative n removes the limit.
func (s *MemoryStore) SetVisiblePageLimit(docID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		delete(s.visiblePages, docID)
		return
	}
	s.visiblePages[docID] = n
}

func (s *MemoryStore) CreateStatus(ctx context.Context, docID, tenantID string) (*models.DocumentStatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; ok {
		return nil, fmt.Errorf("create status %s: %w", docID, ErrAlreadyExists)
	}
	now := time.Now().UTC()
	rec := &models.DocumentStatusRecord{
		DocumentID:    docID,
		TenantID:      tenantID,
		OverallStatus: models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.docs[docID] = rec
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) SetTotalPages(ctx context.Context, docID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[docID]
	if !ok {
		return fmt.Errorf("set total pages %s: %w", docID, ErrNotFound)
	}
	rec.TotalPages = n
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) RecordPage(ctx context.Context, rec *models.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPage, ok := s.pages[rec.DocumentID]
	if !ok {
		byPage = make(map[int]*models.PageRecord)
		s.pages[rec.DocumentID] = byPage
	}
	cp := *rec
	byPage[rec.PageNumber] = &cp
	return nil
}

func (s *MemoryStore) IncrementProcessed(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[docID]
	if !ok {
		return 0, fmt.Errorf("increment processed %s: %w", docID, ErrNotFound)
	}
	rec.ProcessedPages++
	rec.UpdatedAt = time.Now().UTC()
	return rec.ProcessedPages, nil
}

func (s *MemoryStore) IncrementFailed(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[docID]
	if !ok {
		return fmt.Errorf("increment failed %s: %w", docID, ErrNotFound)
	}
	rec.FailedPages++
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func applyFields(rec *models.DocumentStatusRecord, stat string, fields *StatusFields) {
	rec.OverallStatus = stat
	rec.UpdatedAt = time.Now().UTC()
	if stat == models.StatusCompleted {
		rec.CompletedAt = rec.UpdatedAt
	}
	if fields == nil {
		return
	}
	if fields.ResultKey != "" {
		rec.ResultKey = fields.ResultKey
	}
	if fields.ErrorDetails != "" {
		rec.ErrorDetails = fields.ErrorDetails
	}
}

func (s *MemoryStore) UpdateOverallStatus(ctx context.Context, docID, stat string, fields *StatusFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[docID]
	if !ok {
		return fmt.Errorf("update overall status %s: %w", docID, ErrNotFound)
	}
	applyFields(rec, stat, fields)
	return nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, docID, from, to string, fields *StatusFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[docID]
	if !ok {
		return fmt.Errorf("transition status %s: %w", docID, ErrNotFound)
	}
	if rec.OverallStatus != from {
		return fmt.Errorf("transition %s->%s: %w", from, to, ErrPreconditionFailed)
	}
	applyFields(rec, to, fields)
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, docID string) (*models.DocumentStatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[docID]
	if !ok {
		return nil, fmt.Errorf("get document %s: %w", docID, ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) GetPages(ctx context.Context, docID string) ([]*models.PageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPage := s.pages[docID]
	var pages []*models.PageRecord
	for _, rec := range byPage {
		cp := *rec
		pages = append(pages, &cp)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	if limit, ok := s.visiblePages[docID]; ok && len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

func (s *MemoryStore) ScanReadyForAggregation(ctx context.Context) ([]*models.DocumentStatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ready []*models.DocumentStatusRecord
	for _, rec := range s.docs {
		if rec.ReadyForAggregation() {
			cp := *rec
			ready = append(ready, &cp)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].DocumentID < ready[j].DocumentID })
	return ready, nil
}

func (s *MemoryStore) CreateFile(ctx context.Context, rec *models.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[rec.DocumentID]; ok {
		return fmt.Errorf("create file %s: %w", rec.DocumentID, ErrAlreadyExists)
	}
	cp := *rec
	s.files[rec.DocumentID] = &cp
	return nil
}

func (s *MemoryStore) UpdateFileStatus(ctx context.Context, docID, stat string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[docID]
	if !ok {
		return fmt.Errorf("update file status %s: %w", docID, ErrNotFound)
	}
	rec.Status = stat
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetFile(ctx context.Context, docID string) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[docID]
	if !ok {
		return nil, fmt.Errorf("get file %s: %w", docID, ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) FindFileByHash(ctx context.Context, fileHash string) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.files {
		if rec.FileHash == fileHash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("find file by hash: %w", ErrNotFound)
}

func (s *MemoryStore) ListFilesByTenant(ctx context.Context, tenantID string, limit int) ([]*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var files []*models.FileRecord
	for _, rec := range s.files {
		if rec.TenantID == tenantID {
			cp := *rec
			files = append(files, &cp)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].CreatedAt.After(files[j].CreatedAt) })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}
