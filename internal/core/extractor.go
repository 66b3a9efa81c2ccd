package core

import (
	"context"
)

// Page is the text of one source page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// ExtractedDocument is the result of text extraction.
type ExtractedDocument struct {
	Title  string
	Author string
	Pages  []Page
}

// DocumentExtractor defines the interface for extracting text from various document types.
type DocumentExtractor interface {
	// Extract parses raw bytes. The contentType hint helps the extractor choose the right parsing strategy.
	Extract(ctx context.Context, data []byte, contentType string) (*ExtractedDocument, error)
}
