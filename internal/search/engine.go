package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ewmsearch/internal/table"
)

// Engine runs queries against a Store and keeps the store's live view in
// sync with the latest result, which is what export reads.
type Engine struct {
	store    *table.Store
	maxRows  int
	duration prometheus.Histogram
}

// NewEngine creates an engine. When reg is non-nil a search duration
// histogram is registered on it.
func NewEngine(store *table.Store, maxRows int, reg prometheus.Registerer) *Engine {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	e := &Engine{store: store, maxRows: maxRows}
	if reg != nil {
		e.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ewmsearch_search_duration_seconds",
			Help:    "Time spent filtering and rendering one query.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		})
		reg.MustRegister(e.duration)
	}
	return e
}

// MaxRows returns the render cap.
func (e *Engine) MaxRows() int { return e.maxRows }

// Search recomputes the filtered view for q, records it in the store and
// returns the render plan. With no dataset loaded the plan is a no-results plan.
func (e *Engine) Search(q Query) RenderPlan {
	start := time.Now()
	defer func() {
		if e.duration != nil {
			e.duration.Observe(time.Since(start).Seconds())
		}
	}()

	ds := e.store.Dataset()
	if ds == nil {
		return Render(nil, nil, q.Text, e.maxRows)
	}
	view := Filter(ds, q)
	e.store.SetView(ds, view)

	plan := Render(view, ds.Columns(), q.Text, e.maxRows)
	plan.Total = ds.Len()
	plan.TotalLabel = TotalLabel(ds.Len())
	return plan
}

// Clear resets the view to the whole dataset, like an empty query.
func (e *Engine) Clear() RenderPlan {
	return e.Search(NewQuery("", AllColumns()))
}
