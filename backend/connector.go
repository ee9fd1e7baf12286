// Package backend executes concrete ES|QL queries against the log store.
package backend

import (
	"context"
	"time"
)

// Connector runs a concrete query against the log store. Implementations
// return *core.ExecutionError for every failure other than cancellation of
// ctx, which is returned as ctx.Err() possibly wrapped.
type Connector interface {
	RunQuery(ctx context.Context, req Request) (Result, error)
	Ping(ctx context.Context) error
}

// Window is a closed time range applied to the timestamp field as a filter
// outside the query text.
type Window struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// Request is one query execution.
type Request struct {
	Query string
	// Collections are the rule's declared collections. Connectors that can
	// only address collections through the query text ignore them.
	Collections []string
	// Window is optional.
	Window Window
	// SampleLimit caps the raw documents attached to a single row. Connectors
	// that cannot attach samples ignore it.
	SampleLimit int
}

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Row is one result row keyed by column name.
type Row struct {
	Values map[string]any
	// Samples are raw documents behind an aggregated row, when the backend
	// provides them.
	Samples []map[string]any
}

// Result is the decoded response of a query.
type Result struct {
	Columns []Column
	Rows    []Row
	Took    time.Duration
}

// ColumnNames returns the result column names in order.
func (r Result) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}
