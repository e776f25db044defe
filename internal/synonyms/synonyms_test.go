package synonyms_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/promptrank/internal/corpus"
	"github.com/knowledge-engine/promptrank/internal/synonyms"
)

func TestLoad_BuildsSortedDeduplicatedTable(t *testing.T) {
	dict := corpus.SynonymsDict{
		"email":   {"mail", "message", "mail", "email"},
		"mail":    {"email"},
		"message": {"email"},
	}

	table, err := synonyms.Load(dict, synonyms.LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, table.Len())
	assert.Equal(t, []string{"mail", "message"}, table.Synonyms("email"))
	assert.Equal(t, []string{"email"}, table.Synonyms("mail"))
	assert.Empty(t, table.Synonyms("unknown"))
}

func TestLoad_PublishedTableIsSymmetricAndIrreflexive(t *testing.T) {
	dict := corpus.SynonymsDict{
		"fix":   {"repair", "fix", "patch"},
		"bug":   {"defect"},
		"essay": {"article"},
	}

	table, err := synonyms.Load(dict, synonyms.LoadOptions{CapPerKey: 1})
	require.NoError(t, err)

	keys := []string{"fix", "repair", "patch", "bug", "defect", "essay", "article"}
	for _, a := range keys {
		assert.NotContains(t, table.Synonyms(a), a)
		for _, b := range table.Synonyms(a) {
			assert.Contains(t, table.Synonyms(b), a, "%s -> %s has no way back", a, b)
		}
	}
}

func TestLoad_CapPerKeyLimitsLookup(t *testing.T) {
	dict := corpus.SynonymsDict{
		"write": {"author", "compose", "draft", "pen"},
	}

	table, err := synonyms.Load(dict, synonyms.LoadOptions{CapPerKey: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"author", "compose"}, table.Lookup("write"))
	assert.Len(t, table.Synonyms("write"), 4)
}

func TestLoad_DevCheckReportsEveryViolation(t *testing.T) {
	dict := corpus.SynonymsDict{
		"Bad Key": {"ok"},
		"ok":      {"Bad Key"},
		"one":     {"two", "thr-ee"},
		"two":     {},
	}

	table, err := synonyms.Load(dict, synonyms.LoadOptions{DevCheck: true})
	assert.Nil(t, table)
	require.Error(t, err)

	var verr *synonyms.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Violations, "bad key: Bad Key")
	assert.Contains(t, verr.Violations, "bad val: ok -> Bad Key")
	assert.Contains(t, verr.Violations, "bad val: one -> thr-ee")
	assert.Contains(t, verr.Violations, "not symmetric: one <-> two")
	assert.Contains(t, verr.Violations, "not symmetric: one <-> thr-ee")
	assert.GreaterOrEqual(t, len(verr.Violations), 5)
}

func TestLoad_DevCheckAcceptsValidDictionary(t *testing.T) {
	dict := corpus.SynonymsDict{
		"resume": {"cv"},
		"cv":     {"resume"},
	}

	table, err := synonyms.Load(dict, synonyms.LoadOptions{DevCheck: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"cv"}, table.Synonyms("resume"))
}

func TestLoad_FailureLeavesPreviousTableUsable(t *testing.T) {
	current, err := synonyms.Load(corpus.SynonymsDict{"cv": {"resume"}}, synonyms.LoadOptions{})
	require.NoError(t, err)

	next, err := synonyms.Load(corpus.SynonymsDict{"cv": {"BAD"}}, synonyms.LoadOptions{DevCheck: true})
	require.Error(t, err)
	assert.Nil(t, next)

	assert.Equal(t, []string{"resume"}, current.Synonyms("cv"))
}

func TestExpand(t *testing.T) {
	table, err := synonyms.Load(corpus.SynonymsDict{
		"email":  {"mail", "message"},
		"letter": {"mail", "note"},
	}, synonyms.LoadOptions{})
	require.NoError(t, err)

	got := table.Expand([]string{"letter", "email", "letter"})
	assert.Equal(t, []string{"letter", "email", "mail", "note", "message"}, got)
}

func TestExpand_SkipsSynonymsAlreadyInQuery(t *testing.T) {
	table, err := synonyms.Load(corpus.SynonymsDict{"cv": {"resume"}}, synonyms.LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"resume", "cv"}, table.Expand([]string{"resume", "cv"}))
}

func TestExpand_NilTable(t *testing.T) {
	var table *synonyms.Table
	assert.Equal(t, []string{"a", "b"}, table.Expand([]string{"a", "b", "a"}))
	assert.Equal(t, 0, table.Len())
}
