package ingestion_engine

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	untitledSection = "UNTITLED SECTION"
	snippetRunes    = 50
)

var (
	sectionHeadingRe = regexp.MustCompile(`(?i)^section\s+\d+:`)
	paragraphBreakRe = regexp.MustCompile(`\n\s*\n`)
)

// ChunkParams is the (size, overlap) pair used to segment one document, in characters.
type ChunkParams struct {
	ChunkSize    int
	ChunkOverlap int
}

// AdaptiveChunkParams picks chunk sizing from the document's total character count.
// Smaller documents get smaller chunks with proportionally more overlap.
func AdaptiveChunkParams(totalChars int) ChunkParams {
	switch {
	case totalChars < 5000:
		return ChunkParams{ChunkSize: 500, ChunkOverlap: 100}
	case totalChars < 50000:
		return ChunkParams{ChunkSize: 1000, ChunkOverlap: 200}
	default:
		return ChunkParams{ChunkSize: 1500, ChunkOverlap: 200}
	}
}

// SegmentedChunk is an emitted chunk together with the section it came from.
type SegmentedChunk struct {
	Heading string
	Snippet string
	Text    string // heading and snippet prefix included
}

type section struct {
	heading string
	snippet string
	body    string
}

// IsHeading reports whether a line looks like a section heading: either all caps
// or "Section <n>:".
func IsHeading(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	if sectionHeadingRe.MatchString(s) {
		return true
	}

	hasUpper := false
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			return false
		case unicode.IsDigit(r), unicode.IsSpace(r):
		case strings.ContainsRune(":.-&,'()/", r):
		default:
			return false
		}
	}
	return hasUpper
}

// Segment splits text into chunks of at most chunkSize characters (plus the
// heading/snippet prefix). It never fails: malformed input yields a best-effort list.
func Segment(text string, chunkSize, chunkOverlap int) []string {
	segs := SegmentSections(text, chunkSize, chunkOverlap)
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		out = append(out, s.Text)
	}
	return out
}

// SegmentSections is Segment with each chunk's heading and snippet kept alongside.
func SegmentSections(text string, chunkSize, chunkOverlap int) []SegmentedChunk {
	chunkSize, chunkOverlap = normalizeParams(chunkSize, chunkOverlap)

	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []SegmentedChunk
	for _, sec := range splitSections(text) {
		prefix := sec.heading + "\nSnippet: " + sec.snippet + "\n"
		for _, para := range splitParagraphs(sec.body) {
			for _, piece := range splitParagraph(para, chunkSize, chunkOverlap) {
				out = append(out, SegmentedChunk{
					Heading: sec.heading,
					Snippet: sec.snippet,
					Text:    prefix + piece,
				})
			}
		}
	}
	return out
}

func normalizeParams(size, overlap int) (int, int) {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return size, overlap
}

func splitSections(text string) []section {
	var (
		sections []section
		heading  = untitledSection
		body     []string
	)

	flush := func() {
		b := strings.TrimSpace(strings.Join(body, "\n"))
		if b == "" {
			return
		}
		sections = append(sections, section{heading: heading, snippet: snippetOf(body), body: b})
	}

	for _, line := range strings.Split(text, "\n") {
		if IsHeading(line) {
			flush()
			heading = strings.TrimSpace(line)
			body = body[:0]
			continue
		}
		body = append(body, line)
	}
	flush()

	return sections
}

func snippetOf(lines []string) string {
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if utf8.RuneCountInString(l) > snippetRunes {
			return string([]rune(l)[:snippetRunes]) + "..."
		}
		return l
	}
	return ""
}

func splitParagraphs(body string) []string {
	var out []string
	for _, p := range paragraphBreakRe.Split(body, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitParagraph applies the sentence split to oversized paragraphs and the
// character window to anything still oversized.
func splitParagraph(para string, size, overlap int) []string {
	if utf8.RuneCountInString(para) <= size {
		return []string{para}
	}

	var out []string
	for _, piece := range splitBySentences(para, size, overlap) {
		if utf8.RuneCountInString(piece) > size {
			out = append(out, splitByChars(piece, size, overlap)...)
			continue
		}
		out = append(out, piece)
	}
	return out
}

func splitBySentences(para string, size, overlap int) []string {
	var (
		out []string
		buf string
	)
	for _, sentence := range splitSentences(para) {
		if buf == "" {
			buf = sentence
			continue
		}
		if utf8.RuneCountInString(buf)+1+utf8.RuneCountInString(sentence) > size {
			out = append(out, buf)
			if tail := lastRunes(buf, overlap); tail != "" {
				buf = tail + " " + sentence
			} else {
				buf = sentence
			}
			continue
		}
		buf += " " + sentence
	}
	if buf != "" {
		out = append(out, buf)
	}
	return out
}

// splitSentences breaks after '.', '?' or '!' when followed by whitespace.
// The whitespace run is dropped.
func splitSentences(s string) []string {
	var (
		out   []string
		start int
	)
	rs := []rune(s)
	for i := 0; i < len(rs)-1; i++ {
		if !isSentenceEnd(rs[i]) || !unicode.IsSpace(rs[i+1]) {
			continue
		}
		if sent := strings.TrimSpace(string(rs[start : i+1])); sent != "" {
			out = append(out, sent)
		}
		j := i + 1
		for j < len(rs) && unicode.IsSpace(rs[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(rs) {
		if sent := strings.TrimSpace(string(rs[start:])); sent != "" {
			out = append(out, sent)
		}
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

// splitByChars slides a window of size runes, stepping size-overlap, until the
// last window reaches the end of s.
func splitByChars(s string, size, overlap int) []string {
	rs := []rune(s)
	step := size - overlap
	var out []string
	for start := 0; start < len(rs); start += step {
		end := min(start+size, len(rs))
		out = append(out, string(rs[start:end]))
		if end == len(rs) {
			break
		}
	}
	return out
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[len(rs)-n:])
}
