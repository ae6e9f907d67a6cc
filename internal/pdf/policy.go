// Package pdfutil validates uploaded PDF documents and extracts their text.
package pdfutil

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/filealloc/internal/filestore"
	"github.com/dharsanguruparan/filealloc/internal/model"
)

// Policy accepts well-formed PDF documents of at most MaxPages pages. When
// TextStore is set, the extracted text is written there as <bucketname>.txt.
type Policy struct {
	MaxPages  int
	TextStore filestore.FileStore
	Logger    zerolog.Logger
}

// Validate rejects objects that do not parse as PDF, have no pages or exceed
// MaxPages.
func (p *Policy) Validate(_ context.Context, entry *model.FileEntry, obj *filestore.Object) (model.Result, error) {
	data, err := obj.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	pages, err := CountPages(data)
	if err != nil {
		p.Logger.Info().Err(err).Str("bucketname", entry.Bucketname).Msg("not a pdf document")
		return model.ErrorFileInvalid, nil
	}
	if pages == 0 || (p.MaxPages > 0 && pages > p.MaxPages) {
		p.Logger.Info().Int("pages", pages).Str("bucketname", entry.Bucketname).Msg("pdf page count out of range")
		return model.ErrorFileInvalid, nil
	}
	return model.SuccessFileValidated, nil
}

// Process extracts the document text.
func (p *Policy) Process(ctx context.Context, entry *model.FileEntry, obj *filestore.Object) (model.Result, error) {
	data, err := obj.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	text, err := ExtractText(data)
	if err != nil {
		p.Logger.Warn().Err(err).Str("bucketname", entry.Bucketname).Msg("text extraction failed")
		return model.ErrorFileInvalid, nil
	}
	if p.TextStore != nil {
		key := TextKey(entry.Bucketname)
		if err := p.TextStore.PutObject(ctx, key, strings.NewReader(text), int64(len(text)), "text/plain; charset=utf-8"); err != nil {
			return "", fmt.Errorf("store text: %w", err)
		}
	}
	p.Logger.Debug().Int("bytes", len(text)).Str("bucketname", entry.Bucketname).Msg("pdf text extracted")
	return model.SuccessFileProcessed, nil
}

// TextKey names the object holding the text extracted from bucketname.
func TextKey(bucketname string) string {
	return strings.TrimSuffix(bucketname, path.Ext(bucketname)) + ".txt"
}
