package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFExtractor implements PageExtractor for PDF sources using pdfcpu. The
// source is validated and optimized with relaxed validation first; malformed
// uploads fail here, before any page is enumerated. Each page is cut into a
// standalone single-page PDF so the analyzer receives the page document
// itself.
type PDFExtractor struct{}

// NewPDFExtractor returns a PDFExtractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) ExtractPages(ctx context.Context, data []byte) ([]PageContent, error) {
	tempDir, err := os.MkdirTemp("", "page-extract-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage source file: %w", err)
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := api.OptimizeFile(sourcePath, optimizedPath, relaxedConfig()); err != nil {
		return nil, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}

	pages := make([]PageContent, 0, pageCount)
	for p := 1; p <= pageCount; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageData, err := extractPage(optimizedPath, tempDir, p)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p, err)
		}
		pages = append(pages, PageContent{PageNumber: p, Data: pageData})
	}
	return pages, nil
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// extractPage cuts one page into its own PDF and returns its bytes.
func extractPage(pdfPath, tempDir string, page int) ([]byte, error) {
	pagePath := filepath.Join(tempDir, fmt.Sprintf("page-%05d.pdf", page))
	if err := api.TrimFile(pdfPath, pagePath, []string{strconv.Itoa(page)}, relaxedConfig()); err != nil {
		return nil, fmt.Errorf("failed to cut page: %w", err)
	}
	pageData, err := os.ReadFile(pagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read page file: %w", err)
	}
	return pageData, nil
}
