package skills

import (
	"math"
	"strings"
)

const (
	defaultK1       = 1.2
	defaultB        = 0.75
	DefaultMinScore = 0.5
)

// Tokenize lowercases s, splits on anything other than ASCII letters,
// digits, underscore or CJK ideographs, and drops tokens shorter than two
// runes.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isTokenRune(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func isTokenRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
		return true
	case r >= 0x4e00 && r <= 0x9fff:
		return true
	default:
		return false
	}
}

// Scorer ranks documents against a query with Okapi BM25.
type Scorer struct {
	K1       float64
	B        float64
	MinScore float64
}

func NewScorer(minScore float64) Scorer {
	return Scorer{K1: defaultK1, B: defaultB, MinScore: minScore}
}

// index is the per-snapshot term statistics. It is immutable once built.
type index struct {
	docs  []indexedDoc
	df    map[string]int
	avgdl float64
}

type indexedDoc struct {
	doc Document
	tf  map[string]int
	len int
}

func buildIndex(docs []Document) *index {
	idx := &index{docs: make([]indexedDoc, 0, len(docs)), df: make(map[string]int)}
	total := 0
	for _, d := range docs {
		toks := Tokenize(d.Name + " " + d.Description + " " + d.Body)
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		for t := range tf {
			idx.df[t]++
		}
		total += len(toks)
		idx.docs = append(idx.docs, indexedDoc{doc: d, tf: tf, len: len(toks)})
	}
	if len(docs) > 0 {
		idx.avgdl = float64(total) / float64(len(docs))
	}
	return idx
}

// Best returns the highest scoring document at or above MinScore. Equal
// scores resolve to the lexically smaller name.
func (s Scorer) Best(query string, idx *index) (Document, float64, bool) {
	if idx == nil || len(idx.docs) == 0 {
		return Document{}, 0, false
	}
	q := Tokenize(query)
	if len(q) == 0 {
		return Document{}, 0, false
	}

	n := float64(len(idx.docs))
	avgdl := math.Max(idx.avgdl, 1e-9)
	var (
		best      Document
		bestScore float64
		found     bool
	)
	for _, d := range idx.docs {
		score := 0.0
		for _, t := range q {
			freq, ok := d.tf[t]
			if !ok {
				continue
			}
			df := float64(idx.df[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			f := float64(freq)
			denom := f + s.K1*(1-s.B+s.B*float64(d.len)/avgdl)
			score += idf * f * (s.K1 + 1) / denom
		}
		if score <= 0 || score < s.MinScore {
			continue
		}
		if !found || score > bestScore || (score == bestScore && d.doc.Name < best.Name) {
			best, bestScore, found = d.doc, score, true
		}
	}
	return best, bestScore, found
}
