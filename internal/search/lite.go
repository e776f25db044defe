package search

import (
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/knowledge-engine/promptrank/internal/corpus"
	"github.com/knowledge-engine/promptrank/internal/synonyms"
	"github.com/knowledge-engine/promptrank/internal/text"
)

// PrefilterOptions bounds and weights the candidate prefilter.
// Start from DefaultPrefilterOptions; zero is a meaningful value for every field.
type PrefilterOptions struct {
	Min            int
	Max            int
	Family         string
	WTag           float64
	WTitle         float64
	WSynMultiplier float64
	CapQuery       int
}

// DefaultPrefilterOptions returns the standard prefilter bounds and weights
func DefaultPrefilterOptions() PrefilterOptions {
	return PrefilterOptions{
		Min:            200,
		Max:            1000,
		WTag:           2,
		WTitle:         1,
		WSynMultiplier: 0.8,
		CapQuery:       64,
	}
}

// LiteIndex is a cheap token -> document index over titles and tags.
// Documents are addressed by their ordinal in the corpus slice.
type LiteIndex struct {
	docs       []corpus.TemplateDoc
	ordinal    map[string]uint32
	byTagTok   map[string]*roaring.Bitmap
	byTitleTok map[string]*roaring.Bitmap
	byFamily   map[string]*roaring.Bitmap
}

var liteTokenOpts = text.Options{DropStop: false, MinLen: 1}

// BuildLiteIndex indexes titles, tags and families of docs.
// IDs must be unique; the first occurrence wins otherwise.
func BuildLiteIndex(docs []corpus.TemplateDoc) *LiteIndex {
	idx := &LiteIndex{
		docs:       make([]corpus.TemplateDoc, 0, len(docs)),
		ordinal:    make(map[string]uint32, len(docs)),
		byTagTok:   make(map[string]*roaring.Bitmap),
		byTitleTok: make(map[string]*roaring.Bitmap),
		byFamily:   make(map[string]*roaring.Bitmap),
	}

	for _, d := range docs {
		if _, dup := idx.ordinal[d.ID]; dup {
			continue
		}
		ord := uint32(len(idx.docs))
		idx.docs = append(idx.docs, d)
		idx.ordinal[d.ID] = ord

		if d.Family != "" {
			addPosting(idx.byFamily, strings.ToLower(d.Family), ord)
		}
		for _, tag := range d.Tags {
			for _, tok := range text.Tokenize(tag, liteTokenOpts) {
				addPosting(idx.byTagTok, tok, ord)
			}
		}
		for _, tok := range text.Tokenize(d.Title, liteTokenOpts) {
			addPosting(idx.byTitleTok, tok, ord)
		}
	}

	return idx
}

func addPosting(postings map[string]*roaring.Bitmap, key string, ord uint32) {
	bm, ok := postings[key]
	if !ok {
		bm = roaring.New()
		postings[key] = bm
	}
	bm.Add(ord)
}

// Len is the number of indexed documents
func (idx *LiteIndex) Len() int {
	return len(idx.docs)
}

// Doc looks up a template by id
func (idx *LiteIndex) Doc(id string) (corpus.TemplateDoc, bool) {
	ord, ok := idx.ordinal[id]
	if !ok {
		return corpus.TemplateDoc{}, false
	}
	return idx.docs[ord], true
}

// FamilySize is the number of documents in family
func (idx *LiteIndex) FamilySize(family string) int {
	bm, ok := idx.byFamily[strings.ToLower(family)]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

// CandidateIDs returns a bounded set of template ids whose titles or tags
// overlap the draft. The order reflects overlap score only.
func (idx *LiteIndex) CandidateIDs(draft string, table *synonyms.Table, opts PrefilterOptions) []string {
	lo, hi := opts.Min, opts.Max
	if lo < 0 {
		lo = 0
	}
	if hi < 0 {
		hi = 0
	}
	if lo > hi {
		lo, hi = hi, lo
	}

	query, baseCount := buildQuery(draft, table, opts.CapQuery)

	var pool *roaring.Bitmap
	if opts.Family != "" {
		pool = idx.byFamily[strings.ToLower(opts.Family)]
		if pool == nil {
			pool = roaring.New()
		}
	}

	scores := make(map[uint32]float64)
	var order []uint32
	bump := func(postings *roaring.Bitmap, w float64) {
		if postings == nil {
			return
		}
		it := postings.Iterator()
		for it.HasNext() {
			ord := it.Next()
			if pool != nil && !pool.Contains(ord) {
				continue
			}
			if _, seen := scores[ord]; !seen {
				order = append(order, ord)
			}
			scores[ord] += w
		}
	}

	for i, tok := range query {
		mult := 1.0
		if i >= baseCount {
			mult = opts.WSynMultiplier
		}
		bump(idx.byTagTok[tok], opts.WTag*mult)
		bump(idx.byTitleTok[tok], opts.WTitle*mult)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	if len(order) < lo {
		backfill := func(ord uint32) bool {
			if _, seen := scores[ord]; seen {
				return true
			}
			order = append(order, ord)
			return len(order) < lo
		}
		if pool != nil {
			it := pool.Iterator()
			for it.HasNext() {
				if !backfill(it.Next()) {
					break
				}
			}
		} else {
			for ord := range idx.docs {
				if !backfill(uint32(ord)) {
					break
				}
			}
		}
	}

	if len(order) > hi {
		order = order[:hi]
	}

	ids := make([]string, len(order))
	for i, ord := range order {
		ids[i] = idx.docs[ord].ID
	}
	return ids
}

// PrefilterCandidates is CandidateIDs resolved to templates
func (idx *LiteIndex) PrefilterCandidates(draft string, table *synonyms.Table, opts PrefilterOptions) []corpus.TemplateDoc {
	ids := idx.CandidateIDs(draft, table, opts)
	out := make([]corpus.TemplateDoc, 0, len(ids))
	for _, id := range ids {
		if d, ok := idx.Doc(id); ok {
			out = append(out, d)
		}
	}
	return out
}

// buildQuery expands the draft's base terms with synonyms and caps the
// result, trimming synonyms before any base term. The first baseCount
// entries of the returned slice are base terms.
func buildQuery(draft string, table *synonyms.Table, capQuery int) ([]string, int) {
	base := text.Tokens(draft)
	expanded := table.Expand(base)

	baseCount := 0
	seen := make(map[string]struct{}, len(base))
	for _, tok := range base {
		if _, ok := seen[tok]; !ok {
			seen[tok] = struct{}{}
			baseCount++
		}
	}

	if len(expanded) > capQuery {
		keep := capQuery
		if keep < baseCount {
			keep = baseCount
		}
		expanded = expanded[:keep]
	}
	return expanded, baseCount
}
