package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docpipe/internal/core"
)

const pdfMime = "application/pdf"

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
// PDFs are split into single pages with pdfcpu first so every page keeps its number.
type DocconvExtractor struct {
	useReadability bool
	pageWorkers    int
}

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability, pageWorkers: 4}
}

// Extract converts data to text. PDFs are converted page by page; other input,
// or a PDF that pdfcpu cannot split, goes through docconv once as a single page.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", core.ErrExtraction)
	}

	if strings.HasPrefix(contentType, pdfMime) {
		doc, err := e.pdfPages(ctx, data)
		if err == nil && len(doc.Pages) > 0 {
			return doc, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("per-page PDF extraction failed, using whole document", "error", err)
	}

	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		return nil, fmt.Errorf("%w: docconv %s: %v", core.ErrExtraction, contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Body) == "" {
		return nil, fmt.Errorf("%w: no text in %s document", core.ErrExtraction, contentType)
	}
	return &core.ExtractedDocument{
		Title:  metaValue(res.Meta, "Title", "title"),
		Author: metaValue(res.Meta, "Author", "author", "Creator"),
		Pages:  []core.Page{{Number: 1, Text: res.Body}},
	}, nil
}

// pdfPages reads title, author and page count with pdfcpu, splits the file
// into single pages and converts each one.
func (e *DocconvExtractor) pdfPages(ctx context.Context, data []byte) (*core.ExtractedDocument, error) {
	dir, err := os.MkdirTemp("", "docpipe-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	source := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(source, data, 0600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdf, err := api.ReadContextFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	if err := api.ValidateContext(pdf); err != nil {
		return nil, fmt.Errorf("failed to validate PDF: %w", err)
	}
	pageCount := pdf.PageCount
	if err := api.SplitFile(source, dir, 1, conf); err != nil {
		return nil, fmt.Errorf("failed to split PDF: %w", err)
	}

	texts := make([]string, pageCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.pageWorkers)

	base := strings.TrimSuffix(source, filepath.Ext(source))
	for i := 1; i <= pageCount; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(fmt.Sprintf("%s_%d.pdf", base, i))
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			defer f.Close()

			text, _, err := docconv.ConvertPDF(f)
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			texts[i-1] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := &core.ExtractedDocument{
		Title:  metaValue(map[string]string{"Title": pdf.Title}, "Title"),
		Author: metaValue(map[string]string{"Author": pdf.Author, "Creator": pdf.Creator}, "Author", "Creator"),
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		doc.Pages = append(doc.Pages, core.Page{Number: i + 1, Text: t})
	}
	return doc, nil
}

// ResolveContentType falls back to the file extension when the stored type is
// missing or generic.
func ResolveContentType(contentType, fileName string) string {
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	if byExt := docconv.MimeTypeByExtension(fileName); byExt != "" {
		return byExt
	}
	return contentType
}

func metaValue(meta map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(meta[k]); v != "" {
			return v
		}
	}
	return ""
}
