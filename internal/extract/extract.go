// Package extract turns a source document into per-page work units.
package extract

import "context"

// PageContent is one page of the source, numbered from 1, cut out as a
// standalone document.
type PageContent struct {
	PageNumber int
	Data       []byte
}

// PageExtractor enumerates the pages of a source document. A failure here is
// catastrophic for the document: no pages were enumerated, so the processed
// counter must never be touched.
type PageExtractor interface {
	ExtractPages(ctx context.Context, data []byte) ([]PageContent, error)
}
