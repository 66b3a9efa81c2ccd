package ingestion_engine

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/markdave123-py/docpipe/internal/models"
)

// Strategy interfaces for the enricher. Extractors may fail; the enricher turns
// failures into empty lists.
type (
	HeadingDetector interface {
		Headings(text string) []string
	}
	TokenCounter interface {
		CountTokens(text string) int
	}
	KeywordExtractor interface {
		Keywords(text string) ([]string, error)
	}
	EntityExtractor interface {
		Entities(text string) ([]string, error)
	}
	TopicClassifier interface {
		Topics(text string) ([]string, error)
	}
)

// Enricher derives ChunkMetadata from chunk text. It does no I/O.
type Enricher struct {
	headings HeadingDetector
	tokens   TokenCounter
	keywords KeywordExtractor
	entities EntityExtractor
	topics   TopicClassifier
}

// EnricherOption overrides one of the default strategies.
type EnricherOption func(*Enricher)

func WithTokenCounter(tc TokenCounter) EnricherOption {
	return func(e *Enricher) { e.tokens = tc }
}

func WithKeywordExtractor(k KeywordExtractor) EnricherOption {
	return func(e *Enricher) { e.keywords = k }
}

func WithEntityExtractor(x EntityExtractor) EnricherOption {
	return func(e *Enricher) { e.entities = x }
}

func WithTopicClassifier(tc TopicClassifier) EnricherOption {
	return func(e *Enricher) { e.topics = tc }
}

func WithHeadingDetector(h HeadingDetector) EnricherOption {
	return func(e *Enricher) { e.headings = h }
}

// NewEnricher builds an enricher with heuristic defaults and the ~4 chars/token estimator.
func NewEnricher(opts ...EnricherOption) *Enricher {
	e := &Enricher{
		headings: LineHeadingDetector{},
		tokens:   ApproxTokenCounter{},
		keywords: NewFrequencyKeywordExtractor(8),
		entities: NewCapitalizedEntityExtractor(8),
		topics:   DefaultTopicClassifier(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enrich computes metadata for one chunk. Document-level fields (title, author,
// page) are left for the caller.
func (e *Enricher) Enrich(chunkText string) models.ChunkMetadata {
	return models.ChunkMetadata{
		Headings:  nonNil(e.headings.Headings(chunkText)),
		NumTokens: e.tokens.CountTokens(chunkText),
		Keywords:  safeExtract("keywords", chunkText, e.keywords.Keywords),
		Entities:  safeExtract("entities", chunkText, e.entities.Entities),
		Topics:    safeExtract("topics", chunkText, e.topics.Topics),
	}
}

func safeExtract(name, text string, fn func(string) ([]string, error)) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("metadata extractor panicked", "extractor", name, "panic", fmt.Sprint(r))
			out = []string{}
		}
	}()
	res, err := fn(text)
	if err != nil {
		slog.Warn("metadata extractor failed", "extractor", name, "error", err)
		return []string{}
	}
	return nonNil(res)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// LineHeadingDetector returns every heading-like line in order, without duplicates.
type LineHeadingDetector struct{}

func (LineHeadingDetector) Headings(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		h := strings.TrimSpace(line)
		if h == untitledSection || seen[h] || !IsHeading(h) {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

var wordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// contentLines drops the segmenter's prefix lines so they do not skew counts.
func contentLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "Snippet: ") || IsHeading(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FrequencyKeywordExtractor ranks non-stopword terms by frequency.
type FrequencyKeywordExtractor struct {
	limit     int
	stopwords map[string]struct{}
}

func NewFrequencyKeywordExtractor(limit int) *FrequencyKeywordExtractor {
	return &FrequencyKeywordExtractor{limit: limit, stopwords: defaultStopwords()}
}

func (k *FrequencyKeywordExtractor) Keywords(text string) ([]string, error) {
	freq := map[string]int{}
	for _, line := range contentLines(text) {
		for _, w := range wordRe.FindAllString(strings.ToLower(line), -1) {
			if len([]rune(w)) < 3 {
				continue
			}
			if _, stop := k.stopwords[w]; stop {
				continue
			}
			freq[w]++
		}
	}
	return topByCount(freq, k.limit), nil
}

// CapitalizedEntityExtractor treats runs of capitalized words and acronyms as entities.
type CapitalizedEntityExtractor struct {
	limit     int
	stopwords map[string]struct{}
}

func NewCapitalizedEntityExtractor(limit int) *CapitalizedEntityExtractor {
	return &CapitalizedEntityExtractor{limit: limit, stopwords: defaultStopwords()}
}

func (x *CapitalizedEntityExtractor) Entities(text string) ([]string, error) {
	freq := map[string]int{}
	for _, line := range contentLines(text) {
		var run []string
		sentenceStart := true
		flush := func() {
			if len(run) > 0 {
				freq[strings.Join(run, " ")]++
			}
			run = run[:0]
		}
		for _, tok := range strings.Fields(line) {
			word := strings.TrimFunc(tok, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
			endsSentence := strings.ContainsAny(tok[len(tok)-1:], ".?!")
			breaksRun := endsSentence || strings.ContainsAny(tok[len(tok)-1:], ",;:")

			if isCapitalized(word) {
				_, stop := x.stopwords[strings.ToLower(word)]
				if sentenceStart && stop {
					flush()
				} else {
					run = append(run, word)
				}
			} else {
				flush()
			}
			if breaksRun {
				flush()
			}
			sentenceStart = endsSentence
		}
		flush()
	}
	return topByCount(freq, x.limit), nil
}

func isCapitalized(w string) bool {
	rs := []rune(w)
	return len(rs) > 1 && unicode.IsUpper(rs[0])
}

func topByCount(freq map[string]int, limit int) []string {
	out := make([]string, 0, len(freq))
	for w := range freq {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if freq[out[i]] != freq[out[j]] {
			return freq[out[i]] > freq[out[j]]
		}
		return out[i] < out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

var stopwords = defaultStopwords()

// IsStopword reports whether the lower-cased word is in the built-in English stopword list.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "about", "above", "after", "again", "against", "all", "also", "am", "an", "and", "any", "are", "as", "at",
		"be", "because", "been", "before", "being", "below", "between", "both", "but", "by",
		"can", "could", "did", "do", "does", "doing", "down", "during", "each", "few", "for", "from", "further",
		"had", "has", "have", "having", "he", "her", "here", "hers", "herself", "him", "himself", "his", "how",
		"i", "if", "in", "into", "is", "it", "its", "itself", "just", "me", "more", "most", "my", "myself",
		"no", "nor", "not", "now", "of", "off", "on", "once", "only", "or", "other", "our", "ours", "ourselves", "out", "over", "own",
		"same", "she", "should", "so", "some", "such", "than", "that", "the", "their", "theirs", "them", "themselves", "then",
		"there", "these", "they", "this", "those", "through", "to", "too", "under", "until", "up", "very",
		"was", "we", "were", "what", "when", "where", "which", "while", "who", "whom", "why", "will", "with", "would",
		"you", "your", "yours", "yourself", "yourselves",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
