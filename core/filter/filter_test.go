package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(m map[string]any) MapFields { return MapFields(m) }

func TestEqAndNeq(t *testing.T) {
	f := fields(map[string]any{"mimetype": "text/plain"})

	ok, err := Filter{Field: "mimetype", Op: OpEq, Value: "text/plain"}.Matches(f)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Filter{Field: "mimetype", Op: OpNeq, Value: "text/plain"}.Matches(f)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUndefinedFieldSemantics(t *testing.T) {
	f := fields(map[string]any{})

	ok, _ := Filter{Field: "missing", Op: OpEq, Value: "x"}.Matches(f)
	assert.False(t, ok)

	ok, _ = Filter{Field: "missing", Op: OpNeq, Value: "x"}.Matches(f)
	assert.True(t, ok)

	ok, _ = Filter{Field: "missing", Op: OpNotIn, Value: []any{"x"}}.Matches(f)
	assert.True(t, ok)

	ok, _ = Filter{Field: "missing", Op: OpIn, Value: []any{"x"}}.Matches(f)
	assert.False(t, ok)

	ok, _ = Filter{Field: "missing", Op: OpNotContains, Value: "x"}.Matches(f)
	assert.True(t, ok)

	ok, _ = Filter{Field: "missing", Op: OpContainsNone, Value: []any{"x"}}.Matches(f)
	assert.True(t, ok)
}

func TestNumericComparisons(t *testing.T) {
	f := fields(map[string]any{"size": 10})
	ok, err := Filter{Field: "size", Op: OpGt, Value: 5}.Matches(f)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Filter{Field: "size", Op: OpLte, Value: 10}.Matches(f)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIncomparableTypesReturnError(t *testing.T) {
	f := fields(map[string]any{"title": "abc"})
	_, err := Filter{Field: "title", Op: OpLt, Value: 5}.Matches(f)
	require.Error(t, err)
}

func TestSubstringCaseInsensitive(t *testing.T) {
	f := fields(map[string]any{"title": "Annual Report 2024"})
	ok, err := Filter{Field: "title", Op: OpSubstring, Value: "annual"}.Matches(f)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegexMatch(t *testing.T) {
	f := fields(map[string]any{"title": "report-2024.pdf"})
	ok, err := Filter{Field: "title", Op: OpMatch, Value: `^report-\d{4}\.pdf$`}.Matches(f)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInAndNotIn(t *testing.T) {
	f := fields(map[string]any{"mimetype": "text/plain"})
	ok, _ := Filter{Field: "mimetype", Op: OpIn, Value: []any{"text/plain", "text/html"}}.Matches(f)
	assert.True(t, ok)

	ok, _ = Filter{Field: "mimetype", Op: OpNotIn, Value: []any{"text/plain"}}.Matches(f)
	assert.False(t, ok)
}

func TestContainsFamily(t *testing.T) {
	f := fields(map[string]any{"tags": []any{"a", "b", "c"}})

	ok, _ := Filter{Field: "tags", Op: OpContains, Value: "b"}.Matches(f)
	assert.True(t, ok)

	ok, _ = Filter{Field: "tags", Op: OpContainsAll, Value: []any{"a", "c"}}.Matches(f)
	assert.True(t, ok)

	ok, _ = Filter{Field: "tags", Op: OpContainsAll, Value: []any{"a", "z"}}.Matches(f)
	assert.False(t, ok)

	ok, _ = Filter{Field: "tags", Op: OpContainsAny, Value: []any{"z", "c"}}.Matches(f)
	assert.True(t, ok)

	ok, _ = Filter{Field: "tags", Op: OpContainsNone, Value: []any{"z", "y"}}.Matches(f)
	assert.True(t, ok)

	ok, _ = Filter{Field: "tags", Op: OpNotContains, Value: "z"}.Matches(f)
	assert.True(t, ok)
}

func TestGroupIsConjunctive(t *testing.T) {
	f := fields(map[string]any{"mimetype": "text/plain", "size": 10})
	g := Group{
		{Field: "mimetype", Op: OpEq, Value: "text/plain"},
		{Field: "size", Op: OpGt, Value: 100},
	}
	ok, err := g.Matches(f)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDNFIsDisjunctive(t *testing.T) {
	f := fields(map[string]any{"mimetype": "text/plain", "size": 10})
	dnf := DNF{
		{{Field: "mimetype", Op: OpEq, Value: "application/pdf"}},
		{{Field: "size", Op: OpLt, Value: 100}},
	}
	ok, err := dnf.Matches(f)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptyDNFMatchesAnyNode(t *testing.T) {
	ok, err := DNF{}.Matches(fields(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSpecIsSatisfiedBy(t *testing.T) {
	spec := NewSpec(FromGroup(Group{{Field: "mimetype", Op: OpEq, Value: "text/plain"}}))
	ok, err := spec.IsSatisfiedBy(fields(map[string]any{"mimetype": "text/plain"}))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFromGroupEmpty(t *testing.T) {
	assert.Equal(t, DNF{}, FromGroup(Group{}))
}

func TestParseDNFNilIsEmpty(t *testing.T) {
	dnf, err := ParseDNF(nil)
	require.NoError(t, err)
	assert.Equal(t, DNF{}, dnf)
}

func TestParseDNFFlatListIsSingleGroup(t *testing.T) {
	raw := []any{
		[]any{"mimetype", "==", "text/plain"},
		[]any{"title", "~=", "report"},
	}
	dnf, err := ParseDNF(raw)
	require.NoError(t, err)
	require.Len(t, dnf, 1)
	assert.Len(t, dnf[0], 2)

	ok, err := dnf.Matches(fields(map[string]any{"mimetype": "text/plain", "title": "Monthly Report"}))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseDNFNestedListIsDisjunctive(t *testing.T) {
	raw := []any{
		[]any{[]any{"mimetype", "==", "text/plain"}},
		[]any{[]any{"mimetype", "==", "application/pdf"}},
	}
	dnf, err := ParseDNF(raw)
	require.NoError(t, err)
	require.Len(t, dnf, 2)

	ok, err := dnf.Matches(fields(map[string]any{"mimetype": "application/pdf"}))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseDNFRejectsMalformedTriple(t *testing.T) {
	_, err := ParseDNF([]any{[]any{"mimetype", "=="}})
	assert.Error(t, err)
}
