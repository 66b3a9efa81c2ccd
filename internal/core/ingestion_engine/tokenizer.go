package ingestion_engine

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// ApproxTokenCounter estimates ~4 characters per token.
type ApproxTokenCounter struct{}

func (ApproxTokenCounter) CountTokens(text string) int {
	return approxTokens(text)
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// TiktokenCounter counts BPE tokens with a fixed tiktoken encoding.
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

func (t *TiktokenCounter) CountTokens(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a tiktoken counter for kind "tiktoken" and the
// estimator otherwise. If the encoding cannot be loaded (it is fetched on first
// use unless cached), the estimator is used instead.
func NewTokenCounter(kind string) TokenCounter {
	if kind != "tiktoken" {
		return ApproxTokenCounter{}
	}
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, falling back to estimate", "encoding", defaultEncoding, "error", err)
		return ApproxTokenCounter{}
	}
	return &TiktokenCounter{enc: enc}
}
