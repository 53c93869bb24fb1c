package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"testing/quick"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ewmsearch/internal/table"
)

func sampleDataset(t *testing.T) *table.Dataset {
	t.Helper()
	ds, err := table.NewDataset(
		[]string{"Material", "Texto breve material", "Depósito"},
		[][]any{
			{"100", "Parafuso sextavado", "D01"},
			{"200", "Porca M8", "D02"},
			{float64(300), "Arruela lisa", nil},
			{"400", "PARAFUSO allen", "D01"},
		}, "estoque.xlsx")
	require.NoError(t, err)
	return ds
}

func TestFilter_EmptyQueryIsIdentity(t *testing.T) {
	ds := sampleDataset(t)
	got := Filter(ds, NewQuery("   ", AllColumns()))
	require.Len(t, got, ds.Len())
	for i := range got {
		assert.Equal(t, ds.Rows()[i].Strings(), got[i].Strings())
	}
}

func TestFilter_AllColumnsCaseInsensitive(t *testing.T) {
	ds := sampleDataset(t)
	got := Filter(ds, NewQuery("  parafuso ", AllColumns()))
	require.Len(t, got, 2)
	assert.Equal(t, "100", got[0].String(table.ByIndex(0)))
	assert.Equal(t, "400", got[1].String(table.ByIndex(0)))
}

func TestFilter_NumericCellsMatchAsText(t *testing.T) {
	ds := sampleDataset(t)
	got := Filter(ds, NewQuery("300", AllColumns()))
	require.Len(t, got, 1)
	assert.Equal(t, "Arruela lisa", got[0].String(table.ByIndex(1)))
}

func TestFilter_SingleColumnScope(t *testing.T) {
	ds := sampleDataset(t)
	got := Filter(ds, NewQuery("d01", Column(2)))
	assert.Len(t, got, 2)

	got = Filter(ds, NewQuery("100", Column(1)))
	assert.Empty(t, got, "query only matches the Material column")
}

func TestFilter_IsSubstringNotPattern(t *testing.T) {
	ds, err := table.NewDataset([]string{"A"}, [][]any{{"a.c"}, {"abc"}, {"x*y"}}, "")
	require.NoError(t, err)
	assert.Len(t, Filter(ds, NewQuery(".", AllColumns())), 1)
	assert.Len(t, Filter(ds, NewQuery("*", AllColumns())), 1)
}

func TestFilter_NilDataset(t *testing.T) {
	assert.Nil(t, Filter(nil, NewQuery("a", AllColumns())))
}

// Every row in the result contains the needle in some cell, and every row
// left out contains it in none.
func TestProperty_FilterPartitionsRows(t *testing.T) {
	alphabet := []rune("abcAB.* ")
	gen := func(r *rand.Rand, n int) string {
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteRune(alphabet[r.Intn(len(alphabet))])
		}
		return sb.String()
	}

	f := func(seed int64) bool {
		r := rand.New(rand.NewSource(seed))
		rows := make([][]any, 1+r.Intn(20))
		for i := range rows {
			rows[i] = []any{gen(r, r.Intn(6)), gen(r, r.Intn(6)), "k"}
		}
		ds, err := table.NewDataset([]string{"A", "B", "C"}, rows, "")
		if err != nil {
			return false
		}
		q := NewQuery(gen(r, 1+r.Intn(2)), AllColumns())
		needle := q.needle()
		if needle == "" {
			return len(Filter(ds, q)) == ds.Len()
		}

		kept := map[int]bool{}
		got := Filter(ds, q)
		j := 0
		for i, row := range ds.Rows() {
			if j < len(got) && reflect.DeepEqual(got[j].Cells(), row.Cells()) && containsAny(row, needle) {
				kept[i] = true
				j++
			}
		}
		if j != len(got) {
			return false
		}
		for i, row := range ds.Rows() {
			if containsAny(row, needle) != kept[i] {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

func containsAny(r table.Row, needle string) bool {
	for _, s := range r.Strings() {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func TestFilter_Idempotent(t *testing.T) {
	ds := sampleDataset(t)
	first := Filter(ds, NewQuery("d0", AllColumns()))

	rows := make([][]any, len(first))
	for i, r := range first {
		rows[i] = r.Cells()
	}
	again, err := table.NewDataset(ds.Columns(), rows, ds.Source())
	require.NoError(t, err)

	second := Filter(again, NewQuery("", AllColumns()))
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Strings(), second[i].Strings())
	}
}

func TestParseScope(t *testing.T) {
	ds := sampleDataset(t)
	s, err := ParseScope("all", ds.Schema())
	require.NoError(t, err)
	assert.True(t, s.IsAll())

	s, err = ParseScope("", ds.Schema())
	require.NoError(t, err)
	assert.True(t, s.IsAll())

	s, err = ParseScope("2", ds.Schema())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Index())
	assert.Equal(t, "2", s.String())

	s, err = ParseScope("Texto breve material", ds.Schema())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Index())

	_, err = ParseScope("7", ds.Schema())
	assert.ErrorIs(t, err, ErrUnknownColumn)
	_, err = ParseScope("Nope", ds.Schema())
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "1 resultado", Summary(1, 500))
	assert.Equal(t, "0 resultados", Summary(0, 500))
	assert.Equal(t, "2 resultados", Summary(2, 500))
	assert.Equal(t, "500 resultados", Summary(500, 500))
	assert.Equal(t, "501 resultados (mostrando 500)", Summary(501, 500))
	assert.Equal(t, "Total: 3 itens", TotalLabel(3))
}

func htmlOf(text, query string) string {
	return NewHighlighter(query).Cell(text).HTML()
}

func TestHighlight_AllCaseVariants(t *testing.T) {
	got := htmlOf("ABC123abc", "abc")
	assert.Equal(t, `<span class="highlight">ABC</span>123<span class="highlight">abc</span>`, got)
}

func TestHighlight_EscapesPatternCharacters(t *testing.T) {
	assert.Equal(t, `a<span class="highlight">.*</span>b`, htmlOf("a.*b", ".*"))
	assert.Equal(t, "axxb", htmlOf("axxb", ".*"))
	assert.Equal(t, `<span class="highlight">(1)</span>`, htmlOf("(1)", "(1)"))
}

func TestHighlight_EscapesHTML(t *testing.T) {
	assert.Equal(t, `&lt;b&gt; <span class="highlight">x</span>`, htmlOf("<b> x", "x"))
	assert.Equal(t, "&lt;b&gt;", htmlOf("<b>", ""))
}

func TestHighlight_FoldsLikeFilter(t *testing.T) {
	ds, err := table.NewDataset([]string{"Cidade"}, [][]any{{"İSTANBUL"}, {"Kelvin K"}}, "")
	require.NoError(t, err)

	for _, q := range []string{"i", "stan", "k"} {
		view := Filter(ds, NewQuery(q, AllColumns()))
		plan := Render(view, ds.Columns(), q, 0)
		for _, row := range plan.Rows {
			assert.True(t, row[0].Highlighted(), "%q matched %q without a highlight", q, row[0].Text)
		}
	}
	assert.Equal(t, `<span class="highlight">İ</span>STANBUL`, htmlOf("İSTANBUL", "i"))
	assert.Equal(t, `İ<span class="highlight">STAN</span>BUL`, htmlOf("İSTANBUL", "stan"))
}

func TestHighlight_InvalidUTF8(t *testing.T) {
	c := NewHighlighter("b").Cell("a\xffb")
	require.True(t, c.Highlighted())
	assert.Equal(t, "a\xff", c.Segments[0].Text)
	assert.Equal(t, "b", c.Segments[1].Text)
}

func TestCell_JSONCarriesMarkup(t *testing.T) {
	data, err := json.Marshal(NewHighlighter("x").Cell("<x>"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "<x>", got["text"])
	assert.Equal(t, `&lt;<span class="highlight">x</span>&gt;`, got["html"])
	assert.Len(t, got["segments"], 3)
}

func TestHighlighter_NoMatchKeepsRawText(t *testing.T) {
	c := NewHighlighter("zzz").Cell("abc")
	assert.False(t, c.Highlighted())
	assert.Equal(t, []Segment{{Text: "abc"}}, c.Segments)
}

func TestRender_NoResults(t *testing.T) {
	plan := Render(nil, []string{"A"}, "x", 500)
	assert.True(t, plan.NoResults)
	assert.Equal(t, "0 resultados", plan.Summary)
	assert.Empty(t, plan.Rows)
}

func TestRender_TruncatesInViewOrder(t *testing.T) {
	rows := make([][]any, 501)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("item %d", i)}
	}
	ds, err := table.NewDataset([]string{"A"}, rows, "")
	require.NoError(t, err)

	plan := Render(ds.Rows(), ds.Columns(), "", 500)
	assert.Equal(t, "501 resultados (mostrando 500)", plan.Summary)
	assert.True(t, plan.Truncated)
	assert.Equal(t, 500, plan.Shown)
	require.Len(t, plan.Rows, 500)
	assert.Equal(t, "item 0", plan.Rows[0][0].Text)
	assert.Equal(t, "item 499", plan.Rows[499][0].Text)
}

func TestRender_HighlightsEveryColumn(t *testing.T) {
	ds := sampleDataset(t)
	view := Filter(ds, NewQuery("D01", AllColumns()))
	plan := Render(view, ds.Columns(), "d01", 0)
	require.Len(t, plan.Rows, 2)
	assert.Equal(t, "2 resultados", plan.Summary)
	assert.False(t, plan.Rows[0][0].Highlighted())
	assert.True(t, plan.Rows[0][2].Highlighted())
	assert.Equal(t, `<span class="highlight">D01</span>`, plan.Rows[0][2].HTML())
}

func TestEngine_SearchUpdatesLiveView(t *testing.T) {
	store := table.NewStore(nil, nil)
	reg := prometheus.NewRegistry()
	e := NewEngine(store, 0, reg)
	assert.Equal(t, DefaultMaxRows, e.MaxRows())

	plan := e.Search(NewQuery("x", AllColumns()))
	assert.True(t, plan.NoResults)

	ds := sampleDataset(t)
	store.LoadDataset(context.Background(), ds)

	plan = e.Search(NewQuery("porca", AllColumns()))
	assert.Equal(t, "1 resultado", plan.Summary)
	assert.Equal(t, 4, plan.Total)
	assert.Equal(t, "Total: 4 itens", plan.TotalLabel)
	require.Len(t, store.View(), 1)
	assert.Equal(t, "200", store.View()[0].String(table.ByName("Material")))

	plan = e.Clear()
	assert.Equal(t, "4 resultados", plan.Summary)
	assert.Len(t, store.View(), 4)

	n, err := testutil.GatherAndCount(reg, "ewmsearch_search_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
