package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"argus/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newESServer starts a server that answers like an Elasticsearch node. The
// product header is required by the client.
func newESServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestConnector(t *testing.T, srv *httptest.Server, timeout time.Duration) *ElasticsearchConnector {
	t.Helper()
	c, err := NewElasticsearchConnector(ElasticsearchConfig{
		Addresses: []string{srv.URL},
		Timeout:   timeout,
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return c
}

func TestElasticsearchConnector_RunQuery(t *testing.T) {
	var got map[string]any
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_query", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"took": 12, "columns":[{"name":"winlog.event_data.TargetUserName","type":"keyword"},{"name":"failures","type":"long"}],
			"values":[["admin", 7],["guest", 3]]}`)
	})
	c := newTestConnector(t, srv, 0)

	from := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	res, err := c.RunQuery(context.Background(), Request{
		Query:  "FROM logs-* | STATS failures = COUNT(*) BY winlog.event_data.TargetUserName",
		Window: Window{From: from, To: from.Add(15 * time.Minute)},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"winlog.event_data.TargetUserName", "failures"}, res.ColumnNames())
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "admin", res.Rows[0].Values["winlog.event_data.TargetUserName"])
	assert.Equal(t, float64(7), res.Rows[0].Values["failures"])
	assert.Equal(t, 12*time.Millisecond, res.Took)

	require.NotNil(t, got)
	assert.Equal(t, "FROM logs-* | STATS failures = COUNT(*) BY winlog.event_data.TargetUserName", got["query"])
	rng := got["filter"].(map[string]any)["range"].(map[string]any)["@timestamp"].(map[string]any)
	assert.Equal(t, "2026-01-02T03:00:00Z", rng["gte"])
	assert.Equal(t, "2026-01-02T03:15:00Z", rng["lte"])
}

func TestElasticsearchConnector_NoWindowSendsNoFilter(t *testing.T) {
	var got map[string]any
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"columns":[],"values":[]}`)
	})
	c := newTestConnector(t, srv, 0)

	res, err := c.RunQuery(context.Background(), Request{Query: "FROM logs-* | LIMIT 1"})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.NotContains(t, got, "filter")
}

func TestElasticsearchConnector_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   core.ErrorKind
	}{
		{"unknown column", 400, `{"error":{"type":"verification_exception","reason":"Found 1 problem\nline 1:20: Unknown column [user.nme]"},"status":400}`, core.ErrorKindSchema},
		{"parse error", 400, `{"error":{"type":"parsing_exception","reason":"line 1:5: mismatched input"},"status":400}`, core.ErrorKindSchema},
		{"missing index", 404, `{"error":{"type":"index_not_found_exception","reason":"no such index [nope]"},"status":404}`, core.ErrorKindSchema},
		{"server error", 503, `{"error":{"type":"unavailable_shards_exception","reason":"no shards"},"status":503}`, core.ErrorKindUnreachable},
		{"throttled", 429, `{}`, core.ErrorKindUnreachable},
		{"undecodable body", 200, `not json`, core.ErrorKindMalformed},
		{"arity mismatch", 200, `{"columns":[{"name":"a","type":"long"}],"values":[[1,2]]}`, core.ErrorKindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			c := newTestConnector(t, srv, 0)

			_, err := c.RunQuery(context.Background(), Request{Query: "FROM x"})
			require.Error(t, err)
			assert.Equal(t, tt.want, core.KindOf(err), err.Error())
		})
	}
}

func TestElasticsearchConnector_StatusErrorReason(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = io.WriteString(w, `{"error":{"type":"verification_exception","reason":"Unknown column [x]"},"status":400}`)
	})
	c := newTestConnector(t, srv, 0)

	_, err := c.RunQuery(context.Background(), Request{Query: "FROM x | KEEP x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown column [x]")
	assert.Contains(t, err.Error(), "verification_exception")
}

func TestElasticsearchConnector_Timeout(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	c := newTestConnector(t, srv, 50*time.Millisecond)

	start := time.Now()
	_, err := c.RunQuery(context.Background(), Request{Query: "FROM x"})
	require.Error(t, err)
	assert.Equal(t, core.ErrorKindTimeout, core.KindOf(err))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestElasticsearchConnector_Canceled(t *testing.T) {
	hold := make(chan struct{})
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-hold:
		}
	})
	// Registered after the server so it runs first and frees the handler
	// before srv.Close waits on active connections.
	t.Cleanup(func() { close(hold) })
	c := newTestConnector(t, srv, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := c.RunQuery(ctx, Request{Query: "FROM x"})
	require.Error(t, err)
	assert.Equal(t, core.ErrorKindCanceled, core.KindOf(err))
}

func TestElasticsearchConnector_Unreachable(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {})
	url := srv.URL
	srv.Close()

	c, err := NewElasticsearchConnector(ElasticsearchConfig{Addresses: []string{url}}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	_, err = c.RunQuery(context.Background(), Request{Query: "FROM x"})
	require.Error(t, err)
	assert.Equal(t, core.ErrorKindUnreachable, core.KindOf(err))
	assert.Error(t, c.Ping(context.Background()))
}

func TestElasticsearchConnector_Ping(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c := newTestConnector(t, srv, 0)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestNewElasticsearchConnector_RequiresAddress(t *testing.T) {
	_, err := NewElasticsearchConnector(ElasticsearchConfig{}, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}
