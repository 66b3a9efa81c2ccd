package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/markdave123-py/docpipe/internal/core/ingestion_engine"
)

var (
	sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]+`)
	tokenRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// FrequencySummarizer keeps the sentences whose words are most frequent across
// the passage, in their original order.
type FrequencySummarizer struct{}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{}
}

func (s *FrequencySummarizer) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) <= maxSentences {
		return strings.TrimSpace(text)
	}

	freq := map[string]float64{}
	tokens := make([][]string, len(sentences))
	for i, sent := range sentences {
		tokens[i] = tokenRe.FindAllString(strings.ToLower(sent), -1)
		for _, tok := range tokens[i] {
			if !ingestion_engine.IsStopword(tok) {
				freq[tok]++
			}
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i := range sentences {
		var score float64
		for _, tok := range tokens[i] {
			score += freq[tok]
		}
		if n := len(tokens[i]); n > 0 {
			score /= math.Sqrt(float64(n))
		}
		ranked[i] = scored{idx: i, score: score}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	keep := make([]int, maxSentences)
	for i := range keep {
		keep[i] = ranked[i].idx
	}
	sort.Ints(keep)

	out := make([]string, len(keep))
	for i, idx := range keep {
		out[i] = strings.TrimSpace(sentences[idx])
	}
	return strings.Join(out, " ")
}
