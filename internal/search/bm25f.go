package search

import (
	"math"

	"github.com/knowledge-engine/promptrank/internal/corpus"
	"github.com/knowledge-engine/promptrank/internal/text"
)

// BM25Params holds the BM25F saturation, length normalization and field weights
type BM25Params struct {
	K1     float64
	BTitle float64
	BTags  float64
	BBody  float64
	WTitle float64
	WTags  float64
	WBody  float64
}

// DefaultBM25Params returns the standard BM25F tunables
func DefaultBM25Params() BM25Params {
	return BM25Params{
		K1:     1.5,
		BTitle: 0.6,
		BTags:  0.5,
		BBody:  0.75,
		WTitle: 3,
		WTags:  2,
		WBody:  1,
	}
}

// fieldStats is the term frequency table and token count of one field
type fieldStats struct {
	tf  map[string]int
	len int
}

type docFields struct {
	title fieldStats
	tags  fieldStats
	body  fieldStats
}

// BM25Index holds per-document field statistics over a whole corpus
type BM25Index struct {
	docs      map[string]docFields
	df        map[string]int
	totalDocs int
	avgTitle  float64
	avgTags   float64
	avgBody   float64
}

var (
	titleTokenOpts = text.Options{DropStop: true, MinLen: 1}
	bodyTokenOpts  = text.Options{DropStop: true, MinLen: 2}
)

// BuildBM25Index tokenizes title, tags and body of every document and
// records document frequencies and average field lengths.
func BuildBM25Index(docs []corpus.TemplateDoc) *BM25Index {
	idx := &BM25Index{
		docs: make(map[string]docFields, len(docs)),
		df:   make(map[string]int),
	}

	var totalTitle, totalTags, totalBody int
	for _, d := range docs {
		if _, dup := idx.docs[d.ID]; dup {
			continue
		}

		titleTokens := text.Tokenize(d.Title, titleTokenOpts)
		var tagTokens []string
		for _, tag := range d.Tags {
			tagTokens = append(tagTokens, text.Tokenize(text.NormalizeText(tag), titleTokenOpts)...)
		}
		bodyTokens := text.Tokenize(d.Body, bodyTokenOpts)

		idx.docs[d.ID] = docFields{
			title: newFieldStats(titleTokens),
			tags:  newFieldStats(tagTokens),
			body:  newFieldStats(bodyTokens),
		}
		totalTitle += len(titleTokens)
		totalTags += len(tagTokens)
		totalBody += len(bodyTokens)

		seen := make(map[string]struct{})
		for _, tokens := range [][]string{titleTokens, tagTokens, bodyTokens} {
			for _, tok := range tokens {
				if _, ok := seen[tok]; ok {
					continue
				}
				seen[tok] = struct{}{}
				idx.df[tok]++
			}
		}
	}

	idx.totalDocs = len(idx.docs)
	if idx.totalDocs == 0 {
		idx.totalDocs = 1
	}
	n := float64(idx.totalDocs)
	idx.avgTitle = atLeastOne(float64(totalTitle) / n)
	idx.avgTags = atLeastOne(float64(totalTags) / n)
	idx.avgBody = atLeastOne(float64(totalBody) / n)

	return idx
}

func newFieldStats(tokens []string) fieldStats {
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return fieldStats{tf: tf, len: len(tokens)}
}

// atLeastOne guards average lengths against an empty field across the corpus
func atLeastOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

// Contains reports whether id is indexed
func (idx *BM25Index) Contains(id string) bool {
	_, ok := idx.docs[id]
	return ok
}

// IDF is the smoothed inverse document frequency of term
func (idx *BM25Index) IDF(term string) float64 {
	df := float64(idx.df[term])
	n := float64(idx.totalDocs)
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// Score computes the BM25F score of document id for queryTerms.
// Unknown documents score 0. A zero BM25Params means DefaultBM25Params.
func (idx *BM25Index) Score(id string, queryTerms []string, params BM25Params) float64 {
	doc, ok := idx.docs[id]
	if !ok {
		return 0
	}
	if params == (BM25Params{}) {
		params = DefaultBM25Params()
	}

	lenTitle := float64(max(doc.title.len, 1))
	lenTags := float64(max(doc.tags.len, 1))
	lenBody := float64(max(doc.body.len, 1))

	score := 0.0
	for _, term := range queryTerms {
		idf := idx.IDF(term)
		score += fieldScore(params.WTitle, idf, doc.title.tf[term], lenTitle, idx.avgTitle, params.K1, params.BTitle)
		score += fieldScore(params.WTags, idf, doc.tags.tf[term], lenTags, idx.avgTags, params.K1, params.BTags)
		score += fieldScore(params.WBody, idf, doc.body.tf[term], lenBody, idx.avgBody, params.K1, params.BBody)
	}
	return score
}

func fieldScore(w, idf float64, tf int, length, avgLen, k1, b float64) float64 {
	if tf == 0 {
		return 0
	}
	f := float64(tf)
	return w * idf * (f * (k1 + 1)) / (f + k1*(1-b+b*(length/avgLen)))
}
