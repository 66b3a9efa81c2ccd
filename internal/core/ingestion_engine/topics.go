package ingestion_engine

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy/topics.yaml
var defaultTaxonomy []byte

// Taxonomy is the topic list read from YAML.
type Taxonomy struct {
	MinHits int        `yaml:"min_hits"`
	Topics  []TopicDef `yaml:"topics"`
}

type TopicDef struct {
	Name    string   `yaml:"name"`
	Terms   []string `yaml:"terms"`
	MinHits int      `yaml:"min_hits,omitempty"`
}

// KeywordTopicClassifier assigns topics by overlap between chunk words and topic terms.
type KeywordTopicClassifier struct {
	topics []topic
}

type topic struct {
	name    string
	terms   map[string]struct{}
	minHits int
}

// DefaultTopicClassifier uses the built-in taxonomy.
func DefaultTopicClassifier() *KeywordTopicClassifier {
	c, err := ParseTaxonomy(defaultTaxonomy)
	if err != nil {
		panic(fmt.Sprintf("built-in topic taxonomy: %v", err))
	}
	return c
}

// LoadTopicClassifier reads a taxonomy file. An empty path means the built-in taxonomy.
func LoadTopicClassifier(path string) (*KeywordTopicClassifier, error) {
	if path == "" {
		return DefaultTopicClassifier(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy %s: %w", path, err)
	}
	return ParseTaxonomy(data)
}

func ParseTaxonomy(data []byte) (*KeywordTopicClassifier, error) {
	var tx Taxonomy
	if err := yaml.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if tx.MinHits <= 0 {
		tx.MinHits = 1
	}

	c := &KeywordTopicClassifier{}
	for _, def := range tx.Topics {
		if def.Name == "" {
			return nil, fmt.Errorf("parse taxonomy: topic without name")
		}
		t := topic{name: def.Name, terms: map[string]struct{}{}, minHits: tx.MinHits}
		if def.MinHits > 0 {
			t.minHits = def.MinHits
		}
		for _, term := range def.Terms {
			t.terms[strings.ToLower(term)] = struct{}{}
		}
		c.topics = append(c.topics, t)
	}
	return c, nil
}

// Topics returns matching topic names, strongest match first.
func (c *KeywordTopicClassifier) Topics(text string) ([]string, error) {
	words := map[string]struct{}{}
	for _, line := range contentLines(text) {
		for _, w := range wordRe.FindAllString(strings.ToLower(line), -1) {
			words[w] = struct{}{}
		}
	}

	hits := map[string]int{}
	for _, t := range c.topics {
		n := 0
		for term := range t.terms {
			if _, ok := words[term]; ok {
				n++
			}
		}
		if n >= t.minHits {
			hits[t.name] = n
		}
	}
	return topByCount(hits, 0), nil
}
