package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/qiniu/logmon/internal/config"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/rs/zerolog/log"
)

const upstreamName = "elasticsearch"

// Index field names of the log documents.
const (
	FieldTimestamp    = "@timestamp"
	FieldLevel        = "log_level.keyword"
	FieldService      = "service_name.keyword"
	FieldEnvironment  = "environment.keyword"
	FieldResponseTime = "response_time"
)

const (
	snapshotWindow      = time.Hour
	timelineInterval    = "5m"
	recentErrorsWindow  = 15 * time.Minute
	defaultQueryTimeout = 10 * time.Second
)

// ElasticsearchClient answers windowed aggregate queries against the log index.
type ElasticsearchClient struct {
	es      *elasticsearch.Client
	index   string
	timeout time.Duration
}

// NewElasticsearchClient creates a client from app config. transport may be nil.
func NewElasticsearchClient(c *config.ElasticsearchConfig, transport http.RoundTripper) (*ElasticsearchClient, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: c.Addresses,
		Username:  c.Username,
		Password:  c.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	timeout, err := time.ParseDuration(c.Timeout)
	if err != nil || timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &ElasticsearchClient{es: es, index: c.IndexPattern, timeout: timeout}, nil
}

type totalHits struct {
	Value int64 `json:"value"`
}

type searchResponse struct {
	Hits struct {
		Total *totalHits `json:"total"`
		Hits  []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

type termsAggregation struct {
	Buckets []struct {
		Key      any   `json:"key"`
		DocCount int64 `json:"doc_count"`
	} `json:"buckets"`
}

type timelineAggregation struct {
	Buckets []struct {
		Key         int64  `json:"key"`
		KeyAsString string `json:"key_as_string"`
		DocCount    int64  `json:"doc_count"`
		ErrorCount  struct {
			DocCount int64 `json:"doc_count"`
		} `json:"error_count"`
	} `json:"buckets"`
}

// Aggregate counts documents over the trailing window and optionally groups them.
func (c *ElasticsearchClient) Aggregate(ctx context.Context, q model.AggregateQuery) (*model.AggregateResult, error) {
	body := map[string]any{
		"query":            boolQuery(q.Window, q.Levels, q.MinLatencyMs),
		"track_total_hits": true,
	}
	if q.GroupBy != "" {
		body["aggs"] = map[string]any{
			"groups": termsAgg(q.GroupBy, q.Size),
		}
	}

	resp, err := c.search(ctx, body, 0)
	if err != nil {
		return nil, err
	}
	out := &model.AggregateResult{Total: resp.Hits.Total.Value}
	if q.GroupBy != "" {
		groups, err := decodeTerms(resp, "groups")
		if err != nil {
			return nil, err
		}
		out.Groups = groups
	}
	return out, nil
}

// Snapshot returns the last hour's aggregate view of the index.
func (c *ElasticsearchClient) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	body := map[string]any{
		"query":            boolQuery(snapshotWindow, nil, 0),
		"track_total_hits": true,
		"aggs": map[string]any{
			"log_levels":   termsAgg(FieldLevel, 10),
			"services":     termsAgg(FieldService, 20),
			"environments": termsAgg(FieldEnvironment, 10),
			"error_timeline": map[string]any{
				"date_histogram": map[string]any{
					"field":          FieldTimestamp,
					"fixed_interval": timelineInterval,
				},
				"aggs": map[string]any{
					"error_count": map[string]any{
						"filter": map[string]any{
							"terms": map[string]any{FieldLevel: model.ErrorLevels},
						},
					},
				},
			},
		},
	}

	resp, err := c.search(ctx, body, 0)
	if err != nil {
		return nil, err
	}

	snap := &model.Snapshot{TotalLogs: resp.Hits.Total.Value}
	if snap.LogLevels, err = decodeTerms(resp, "log_levels"); err != nil {
		return nil, err
	}
	if snap.Services, err = decodeTerms(resp, "services"); err != nil {
		return nil, err
	}
	if snap.Environments, err = decodeTerms(resp, "environments"); err != nil {
		return nil, err
	}

	raw, ok := resp.Aggregations["error_timeline"]
	if !ok {
		return nil, &model.MalformedResponseError{Upstream: upstreamName, Reason: "missing aggregation error_timeline"}
	}
	var tl timelineAggregation
	if err := json.Unmarshal(raw, &tl); err != nil {
		return nil, &model.MalformedResponseError{Upstream: upstreamName, Reason: "error_timeline: " + err.Error()}
	}
	snap.ErrorTimeline = make([]model.TimelineBucket, 0, len(tl.Buckets))
	for _, b := range tl.Buckets {
		snap.ErrorTimeline = append(snap.ErrorTimeline, model.TimelineBucket{
			Key:         b.Key,
			KeyAsString: b.KeyAsString,
			Count:       b.DocCount,
			ErrorCount:  b.ErrorCount.DocCount,
		})
	}
	return snap, nil
}

// RecentErrors returns ERROR/FATAL documents from the last 15 minutes, newest first.
func (c *ElasticsearchClient) RecentErrors(ctx context.Context, limit int) ([]model.Event, error) {
	return c.RecentEvents(ctx, recentErrorsWindow, model.ErrorLevels, limit)
}

// RecentEvents returns matching documents in the window, newest first.
func (c *ElasticsearchClient) RecentEvents(ctx context.Context, window time.Duration, levels []string, limit int) ([]model.Event, error) {
	body := map[string]any{
		"query": boolQuery(window, levels, 0),
		"sort": []any{
			map[string]any{FieldTimestamp: map[string]any{"order": "desc"}},
		},
	}
	resp, err := c.search(ctx, body, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (c *ElasticsearchClient) search(ctx context.Context, body map[string]any, size int) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
		c.es.Search.WithSize(size),
	)
	if err != nil {
		return nil, &model.UpstreamError{Upstream: upstreamName, Op: "search", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		log.Debug().Int("status", res.StatusCode).Str("body", string(msg)).Msg("elasticsearch search rejected")
		return nil, &model.UpstreamError{Upstream: upstreamName, Op: "search", Err: fmt.Errorf("status %d", res.StatusCode)}
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, &model.MalformedResponseError{Upstream: upstreamName, Reason: err.Error()}
	}
	if out.Hits.Total == nil {
		return nil, &model.MalformedResponseError{Upstream: upstreamName, Reason: "missing hits.total"}
	}
	return &out, nil
}

func boolQuery(window time.Duration, levels []string, minLatencyMs int) map[string]any {
	must := []any{
		map[string]any{"range": map[string]any{FieldTimestamp: map[string]any{"gte": dateMath(window)}}},
	}
	if len(levels) > 0 {
		must = append(must, map[string]any{"terms": map[string]any{FieldLevel: levels}})
	}
	if minLatencyMs > 0 {
		must = append(must, map[string]any{"range": map[string]any{FieldResponseTime: map[string]any{"gte": minLatencyMs}}})
	}
	return map[string]any{"bool": map[string]any{"must": must}}
}

func termsAgg(field string, size int) map[string]any {
	return map[string]any{"terms": map[string]any{"field": field, "size": size}}
}

// dateMath renders a trailing window as an ES date-math expression, e.g. now-5m.
func dateMath(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("now-%dh", int64(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("now-%dm", int64(d/time.Minute))
	default:
		return fmt.Sprintf("now-%ds", int64(d/time.Second))
	}
}

func decodeTerms(resp *searchResponse, name string) ([]model.Bucket, error) {
	raw, ok := resp.Aggregations[name]
	if !ok {
		return nil, &model.MalformedResponseError{Upstream: upstreamName, Reason: "missing aggregation " + name}
	}
	var agg termsAggregation
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, &model.MalformedResponseError{Upstream: upstreamName, Reason: name + ": " + err.Error()}
	}
	out := make([]model.Bucket, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		key, ok := b.Key.(string)
		if !ok {
			key = fmt.Sprint(b.Key)
		}
		out = append(out, model.Bucket{Key: key, Count: b.DocCount})
	}
	return out, nil
}
