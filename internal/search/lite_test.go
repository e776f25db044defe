package search_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/promptrank/internal/corpus"
	"github.com/knowledge-engine/promptrank/internal/search"
	"github.com/knowledge-engine/promptrank/internal/synonyms"
)

func doc(id, title, family string, tags ...string) corpus.TemplateDoc {
	return corpus.TemplateDoc{ID: id, Title: title, Family: family, Tags: tags, Enabled: true}
}

func unboundedOpts() search.PrefilterOptions {
	opts := search.DefaultPrefilterOptions()
	opts.Min = 0
	return opts
}

func TestCandidateIDs_RespectsBounds(t *testing.T) {
	var docs []corpus.TemplateDoc
	for i := 0; i < 10; i++ {
		docs = append(docs, doc(fmt.Sprintf("t%d", i), "Generic template", ""))
	}
	idx := search.BuildLiteIndex(docs)

	tests := []struct {
		name     string
		min, max int
		wantLen  int
	}{
		{"Matches truncated to max", 3, 5, 5},
		{"Larger than corpus", 20, 30, 10},
		{"Inverted bounds", 6, 2, 6},
		{"Max caps matches", 0, 4, 4},
		{"Negative floors", -5, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := search.DefaultPrefilterOptions()
			opts.Min, opts.Max = tt.min, tt.max
			ids := idx.CandidateIDs("generic", nil, opts)
			assert.Len(t, ids, tt.wantLen)
		})
	}
}

func TestCandidateIDs_BoundProperty(t *testing.T) {
	var docs []corpus.TemplateDoc
	for i := 0; i < 25; i++ {
		docs = append(docs, doc(fmt.Sprintf("t%02d", i), fmt.Sprintf("title %d", i%4), "", "tag"))
	}
	idx := search.BuildLiteIndex(docs)
	c := idx.Len()

	for _, bounds := range [][2]int{{0, 0}, {1, 3}, {5, 10}, {10, 40}, {30, 50}, {25, 25}} {
		opts := search.DefaultPrefilterOptions()
		opts.Min, opts.Max = bounds[0], bounds[1]
		for _, draft := range []string{"", "title", "tag 2", "nothing matches"} {
			n := len(idx.CandidateIDs(draft, nil, opts))
			assert.GreaterOrEqual(t, n, min(bounds[0], c), "bounds %v draft %q", bounds, draft)
			assert.LessOrEqual(t, n, min(bounds[1], c), "bounds %v draft %q", bounds, draft)
		}
	}
}

func TestCandidateIDs_TagOutweighsTitle(t *testing.T) {
	idx := search.BuildLiteIndex([]corpus.TemplateDoc{
		doc("by-title", "Refactor helper", ""),
		doc("by-tag", "Something else", "", "refactor"),
	})

	ids := idx.CandidateIDs("refactor", nil, unboundedOpts())
	assert.Equal(t, []string{"by-tag", "by-title"}, ids)
}

func TestCandidateIDs_SynonymsAreDiscounted(t *testing.T) {
	table, err := synonyms.Load(corpus.SynonymsDict{"email": {"mail"}}, synonyms.LoadOptions{})
	require.NoError(t, err)

	idx := search.BuildLiteIndex([]corpus.TemplateDoc{
		doc("via-synonym", "Mail follow up", ""),
		doc("via-base", "Email follow up", ""),
	})

	ids := idx.CandidateIDs("email", table, unboundedOpts())
	assert.Equal(t, []string{"via-base", "via-synonym"}, ids)

	ids = idx.CandidateIDs("email", nil, unboundedOpts())
	assert.Equal(t, []string{"via-base"}, ids)
}

func TestCandidateIDs_CapQueryKeepsBaseTerms(t *testing.T) {
	table, err := synonyms.Load(corpus.SynonymsDict{"email": {"mail"}}, synonyms.LoadOptions{})
	require.NoError(t, err)

	idx := search.BuildLiteIndex([]corpus.TemplateDoc{
		doc("mail", "Mail", ""),
		doc("email", "Email", ""),
		doc("letter", "Letter", ""),
	})

	opts := unboundedOpts()
	opts.CapQuery = 1
	ids := idx.CandidateIDs("email letter", table, opts)
	assert.ElementsMatch(t, []string{"email", "letter"}, ids)
}

func TestCandidateIDs_FamilyFilter(t *testing.T) {
	idx := search.BuildLiteIndex([]corpus.TemplateDoc{
		doc("c1", "Cover letter", "career", "job"),
		doc("x1", "Cover image prompt", "design"),
		doc("c2", "Salary negotiation", "career"),
		doc("c3", "Interview prep", "Career"),
	})

	opts := search.DefaultPrefilterOptions()
	opts.Family = "career"
	opts.Min = 3
	ids := idx.CandidateIDs("cover", nil, opts)
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
	assert.Equal(t, 3, idx.FamilySize("CAREER"))
}

func TestCandidateIDs_EmptyFamilyYieldsNothing(t *testing.T) {
	idx := search.BuildLiteIndex([]corpus.TemplateDoc{
		doc("c1", "Cover letter", "career"),
		doc("c2", "Cover page", "career"),
	})

	opts := search.DefaultPrefilterOptions()
	opts.Family = "poetry"
	opts.Min = 50
	assert.Empty(t, idx.CandidateIDs("cover letter", nil, opts))
}

func TestCandidateIDs_BackfillsInCorpusOrder(t *testing.T) {
	idx := search.BuildLiteIndex([]corpus.TemplateDoc{
		doc("a", "Alpha", ""),
		doc("b", "Beta", ""),
		doc("c", "Gamma", ""),
		doc("d", "Delta", ""),
	})

	opts := search.DefaultPrefilterOptions()
	opts.Min = 3
	ids := idx.CandidateIDs("gamma", nil, opts)
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestBuildLiteIndex_FirstDuplicateWins(t *testing.T) {
	idx := search.BuildLiteIndex([]corpus.TemplateDoc{
		doc("dup", "First", ""),
		doc("dup", "Second", ""),
	})

	assert.Equal(t, 1, idx.Len())
	d, ok := idx.Doc("dup")
	require.True(t, ok)
	assert.Equal(t, "First", d.Title)
	assert.Empty(t, idx.CandidateIDs("second", nil, unboundedOpts()))
}

func TestPrefilterCandidates(t *testing.T) {
	idx := search.BuildLiteIndex([]corpus.TemplateDoc{
		doc("bug", "Bug report", "", "debugging"),
		doc("essay", "Essay outline", "", "writing"),
	})

	docs := idx.PrefilterCandidates("write an essay", nil, unboundedOpts())
	require.Len(t, docs, 1)
	assert.Equal(t, "Essay outline", docs[0].Title)
}
