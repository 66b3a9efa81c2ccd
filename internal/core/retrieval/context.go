package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

const (
	ContextSeparator = "\n\n---\n\n"

	summarizePrompt = "Summarize the following passage in a few sentences. Keep names, numbers and terminology exactly as written. Reply with the summary only."
)

// ContextBuilder joins retrieved chunks into one prompt context. Every block
// starts with a header carrying the chunk's provenance.
//
// Chunks longer than threshold runes are shortened first: by the LLM when one
// is configured, otherwise by an extractive summary.
type ContextBuilder struct {
	llm         core.LLMProvider
	threshold   int
	concurrency int
	extractive  *FrequencySummarizer
}

func NewContextBuilder(llm core.LLMProvider, threshold int) *ContextBuilder {
	return &ContextBuilder{
		llm:         llm,
		threshold:   threshold,
		concurrency: 4,
		extractive:  NewFrequencySummarizer(),
	}
}

// Build returns the joined context. It only fails when ctx is done; a failed
// summary falls back to the chunk's own text.
func (b *ContextBuilder) Build(ctx context.Context, chunks []models.Chunk) (string, error) {
	bodies := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			bodies[i] = b.body(gctx, c)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = Header(c) + "\n" + bodies[i]
	}
	return strings.Join(blocks, ContextSeparator), nil
}

func (b *ContextBuilder) body(ctx context.Context, c models.Chunk) string {
	text := c.PageContent
	if b.threshold <= 0 || utf8.RuneCountInString(text) <= b.threshold {
		return text
	}

	if b.llm == nil {
		if summary := b.extractive.Summarize(text, 5); summary != "" {
			return summary
		}
		return text
	}

	summary, err := b.llm.Generate(ctx, summarizePrompt, text)
	if err != nil || strings.TrimSpace(summary) == "" {
		slog.Warn("chunk summary failed, using original text", "chunk_id", c.UniqueChunkID, "error", err)
		return text
	}
	return strings.TrimSpace(summary)
}

// Header renders a chunk's provenance as a single line.
func Header(c models.Chunk) string {
	var (
		page          int
		title, author string
		headings      []string
	)
	if m := c.Metadata; m != nil {
		page, title, author, headings = m.PageNumber, m.DocTitle, m.DocAuthor, m.Headings
	}
	return fmt.Sprintf("[Chunk ID: %s | Page: %d | Title: %s | Author: %s | Headings: %s]",
		c.UniqueChunkID, page, title, author, strings.Join(headings, "; "))
}
