package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qiniu/logmon/internal/config"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	mu    sync.Mutex
	Path  string
	Query string
	Body  map[string]any
}

// fakeES serves a canned reply and records the last search request.
func fakeES(t *testing.T, status int, reply string) (*ElasticsearchClient, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.mu.Lock()
		captured.Path = r.URL.Path
		captured.Query = r.URL.RawQuery
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &captured.Body)
		}
		captured.mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)

	c, err := NewElasticsearchClient(&config.ElasticsearchConfig{
		Addresses:    []string{srv.URL},
		IndexPattern: "logs-*",
		Timeout:      "2s",
	}, nil)
	require.NoError(t, err)
	return c, captured
}

func mustJSON(t *testing.T, req *capturedRequest) string {
	t.Helper()
	req.mu.Lock()
	defer req.mu.Unlock()
	b, err := json.Marshal(req.Body)
	require.NoError(t, err)
	return string(b)
}

func TestAggregate_Unsegmented(t *testing.T) {
	c, req := fakeES(t, http.StatusOK, `{"hits":{"total":{"value":6,"relation":"eq"},"hits":[]}}`)

	res, err := c.Aggregate(context.Background(), model.AggregateQuery{Window: 5 * time.Minute, MinLatencyMs: 1000})
	require.NoError(t, err)
	assert.EqualValues(t, 6, res.Total)
	assert.Empty(t, res.Groups)

	assert.Equal(t, "/logs-*/_search", req.Path)
	assert.Contains(t, req.Query, "size=0")
	body := mustJSON(t, req)
	assert.Contains(t, body, `"gte":"now-5m"`)
	assert.Contains(t, body, `"response_time":{"gte":1000}`)
	assert.NotContains(t, body, "aggs")
	assert.Equal(t, true, req.Body["track_total_hits"])
}

func TestAggregate_Grouped(t *testing.T) {
	reply := `{"hits":{"total":{"value":26}},"aggregations":{"groups":{"buckets":[
		{"key":"api","doc_count":11},{"key":"worker","doc_count":10},{"key":"web","doc_count":5}]}}}`
	c, req := fakeES(t, http.StatusOK, reply)

	res, err := c.Aggregate(context.Background(), model.AggregateQuery{
		Window:  5 * time.Minute,
		Levels:  model.ErrorLevels,
		GroupBy: FieldService,
		Size:    50,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 26, res.Total)
	assert.Equal(t, []model.Bucket{{Key: "api", Count: 11}, {Key: "worker", Count: 10}, {Key: "web", Count: 5}}, res.Groups)

	body := mustJSON(t, req)
	assert.Contains(t, body, `"log_level.keyword":["ERROR","FATAL"]`)
	assert.Contains(t, body, `"field":"service_name.keyword","size":50`)
}

func TestAggregate_Failures(t *testing.T) {
	ctx := context.Background()
	q := model.AggregateQuery{Window: 5 * time.Minute, GroupBy: FieldService, Size: 50}

	t.Run("upstream status", func(t *testing.T) {
		c, _ := fakeES(t, http.StatusServiceUnavailable, `{"error":"unavailable"}`)
		_, err := c.Aggregate(ctx, q)
		assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
	})

	t.Run("garbage body", func(t *testing.T) {
		c, _ := fakeES(t, http.StatusOK, `<html>`)
		_, err := c.Aggregate(ctx, q)
		assert.ErrorIs(t, err, model.ErrMalformedResponse)
	})

	t.Run("missing total", func(t *testing.T) {
		c, _ := fakeES(t, http.StatusOK, `{"hits":{}}`)
		_, err := c.Aggregate(ctx, q)
		assert.ErrorIs(t, err, model.ErrMalformedResponse)
	})

	t.Run("missing aggregation", func(t *testing.T) {
		c, _ := fakeES(t, http.StatusOK, `{"hits":{"total":{"value":3}}}`)
		_, err := c.Aggregate(ctx, q)
		assert.ErrorIs(t, err, model.ErrMalformedResponse)
	})

	t.Run("unreachable", func(t *testing.T) {
		c, err := NewElasticsearchClient(&config.ElasticsearchConfig{
			Addresses: []string{"http://127.0.0.1:1"},
			Timeout:   "500ms",
		}, nil)
		require.NoError(t, err)
		_, err = c.Aggregate(ctx, q)
		assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
	})
}

func TestSnapshot(t *testing.T) {
	reply := `{"hits":{"total":{"value":120}},"aggregations":{
		"log_levels":{"buckets":[{"key":"INFO","doc_count":100},{"key":"ERROR","doc_count":20}]},
		"services":{"buckets":[{"key":"api","doc_count":120}]},
		"environments":{"buckets":[{"key":"production","doc_count":120}]},
		"error_timeline":{"buckets":[{"key":1700000000000,"key_as_string":"2023-11-14T22:13:20.000Z","doc_count":60,"error_count":{"doc_count":7}}]}}}`
	c, req := fakeES(t, http.StatusOK, reply)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 120, snap.TotalLogs)
	assert.Len(t, snap.LogLevels, 2)
	assert.Equal(t, "api", snap.Services[0].Key)
	assert.Equal(t, "production", snap.Environments[0].Key)
	require.Len(t, snap.ErrorTimeline, 1)
	assert.EqualValues(t, 7, snap.ErrorTimeline[0].ErrorCount)
	assert.EqualValues(t, 60, snap.ErrorTimeline[0].Count)

	body := mustJSON(t, req)
	assert.Contains(t, body, `"gte":"now-1h"`)
	assert.Contains(t, body, `"fixed_interval":"5m"`)
}

func TestRecentErrors(t *testing.T) {
	reply := `{"hits":{"total":{"value":2},"hits":[
		{"_source":{"message":"boom","service_name":"api"}},
		{"_source":{"message":"bang","service_name":"web"}}]}}`
	c, req := fakeES(t, http.StatusOK, reply)

	events, err := c.RecentErrors(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"message":"boom","service_name":"api"}`, string(events[0]))

	assert.Contains(t, req.Query, "size=50")
	body := mustJSON(t, req)
	assert.Contains(t, body, `"gte":"now-15m"`)
	assert.True(t, strings.Contains(body, `"@timestamp":{"order":"desc"}`))
}

func TestDateMath(t *testing.T) {
	assert.Equal(t, "now-5m", dateMath(5*time.Minute))
	assert.Equal(t, "now-1h", dateMath(time.Hour))
	assert.Equal(t, "now-90s", dateMath(90*time.Second))
}
