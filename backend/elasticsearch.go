package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"argus/core"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// maxErrorBody bounds how much of an error response is read into a reason.
const maxErrorBody = 64 * 1024

// ElasticsearchConfig holds connection settings for the ES|QL connector.
type ElasticsearchConfig struct {
	Addresses          []string
	Username           string
	Password           string
	APIKey             string
	Timeout            time.Duration
	InsecureSkipVerify bool
	// TimestampField is the field the time window filter applies to.
	TimestampField string
}

// ElasticsearchConnector runs ES|QL queries through the _query endpoint.
type ElasticsearchConnector struct {
	client    *elasticsearch.Client
	timeout   time.Duration
	timeField string
	logger    *zap.SugaredLogger
}

// NewElasticsearchConnector creates a connector. Client-side retries are
// disabled; retry policy belongs to ResilientConnector.
func NewElasticsearchConnector(cfg ElasticsearchConfig, logger *zap.SugaredLogger) (*ElasticsearchConnector, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch: at least one address is required")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in for lab clusters
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		APIKey:       cfg.APIKey,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create client: %w", err)
	}

	timeField := cfg.TimestampField
	if timeField == "" {
		timeField = core.TimestampField
	}
	return &ElasticsearchConnector{
		client:    client,
		timeout:   cfg.Timeout,
		timeField: timeField,
		logger:    logger,
	}, nil
}

type esqlRequest struct {
	Query  string         `json:"query"`
	Filter map[string]any `json:"filter,omitempty"`
}

type esqlResponse struct {
	Columns []Column `json:"columns"`
	Values  [][]any  `json:"values"`
	Took    int64    `json:"took"`
}

type esErrorResponse struct {
	Error struct {
		Type      string `json:"type"`
		Reason    string `json:"reason"`
		RootCause []struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"root_cause"`
	} `json:"error"`
	Status int `json:"status"`
}

// RunQuery executes req.Query. Collections are addressed by the query's own
// FROM command, so req.Collections is not sent.
func (c *ElasticsearchConnector) RunQuery(ctx context.Context, req Request) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body := esqlRequest{Query: req.Query}
	if !req.Window.IsZero() {
		bounds := map[string]any{"format": "strict_date_optional_time"}
		if !req.Window.From.IsZero() {
			bounds["gte"] = req.Window.From.UTC().Format(time.RFC3339Nano)
		}
		if !req.Window.To.IsZero() {
			bounds["lte"] = req.Window.To.UTC().Format(time.RFC3339Nano)
		}
		body.Filter = map[string]any{"range": map[string]any{c.timeField: bounds}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, core.MalformedError(fmt.Errorf("failed to encode query request: %w", err))
	}

	start := time.Now()
	res, err := c.client.EsqlQuery(
		bytes.NewReader(payload),
		c.client.EsqlQuery.WithContext(ctx),
		c.client.EsqlQuery.WithFormat("json"),
	)
	if err != nil {
		return Result{}, classifyTransportError(ctx, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return Result{}, classifyResponseError(res)
	}

	result, err := decodeResult(res.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, classifyTransportError(ctx, ctxErr)
		}
		return Result{}, err
	}
	if result.Took == 0 {
		result.Took = time.Since(start)
	}

	c.logger.Debugw("ES|QL query completed",
		"rows", len(result.Rows),
		"columns", len(result.Columns),
		"took", result.Took)
	return result, nil
}

// Ping checks that the cluster answers.
func (c *ElasticsearchConnector) Ping(ctx context.Context) error {
	res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return core.UnreachableError(fmt.Errorf("ping returned status %d", res.StatusCode))
	}
	return nil
}

func decodeResult(r io.Reader) (Result, error) {
	var resp esqlResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return Result{}, core.MalformedError(fmt.Errorf("failed to decode ES|QL response: %w", err))
	}

	result := Result{
		Columns: resp.Columns,
		Rows:    make([]Row, 0, len(resp.Values)),
		Took:    time.Duration(resp.Took) * time.Millisecond,
	}
	for i, values := range resp.Values {
		if len(values) != len(resp.Columns) {
			return Result{}, core.MalformedError(fmt.Errorf("row %d has %d values for %d columns", i, len(values), len(resp.Columns)))
		}
		row := Row{Values: make(map[string]any, len(values))}
		for j, v := range values {
			row.Values[resp.Columns[j].Name] = v
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return core.TimeoutError(fmt.Errorf("query exceeded its deadline: %w", err))
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("query canceled: %w", context.Canceled)
	default:
		return core.UnreachableError(err)
	}
}

func classifyResponseError(res *esapi.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))

	errType, reason := "", strings.TrimSpace(string(raw))
	var parsed esErrorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Type != "" {
		errType = parsed.Error.Type
		reason = parsed.Error.Reason
		if len(parsed.Error.RootCause) > 0 && parsed.Error.RootCause[0].Reason != "" && reason == "" {
			reason = parsed.Error.RootCause[0].Reason
		}
	}

	err := &StatusError{Status: res.StatusCode, Type: errType, Reason: reason}
	switch {
	case res.StatusCode == http.StatusBadRequest, res.StatusCode == http.StatusNotFound:
		return core.SchemaError(err)
	case res.StatusCode == http.StatusRequestTimeout:
		return core.TimeoutError(err)
	case res.StatusCode >= 500, res.StatusCode == http.StatusTooManyRequests,
		res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden:
		return core.UnreachableError(err)
	default:
		return core.MalformedError(err)
	}
}

// StatusError is an error response from the cluster.
type StatusError struct {
	Status int
	Type   string
	Reason string
}

func (e *StatusError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("status %d %s: %s", e.Status, e.Type, e.Reason)
}
