package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qiniu/logmon/internal/config"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAlert = model.NewAlert(
	time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC),
	model.SeverityCritical, model.SourceSystem,
	"Error log spike detected: 42 errors in the last 5m0s",
	"production", model.CategoryErrorSpike,
)

func TestSlackNotifier_Payload(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client())
	require.NoError(t, n.Notify(context.Background(), testAlert))

	assert.Equal(t, "Critical Alert: Error log spike detected: 42 errors in the last 5m0s", got.Text)
	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "danger", att.Color)
	assert.Equal(t, []slackField{
		{Title: "Service", Value: "system", Short: true},
		{Title: "Environment", Value: "production", Short: true},
		{Title: "Time", Value: "2024-03-01 09:30:15", Short: true},
		{Title: "Type", Value: "error_spike", Short: true},
	}, att.Fields)
}

func TestSlackNotifier_NonSuccessIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewSlackNotifier(srv.URL, srv.Client()).Notify(context.Background(), testAlert)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "500")
}

func TestSlackNotifier_BreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client())
	for i := 0; i < 5; i++ {
		_ = n.Notify(context.Background(), testAlert)
	}

	assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "breaker should stop calls after three failures")
	err := n.Notify(context.Background(), testAlert)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestNew_SelectsImplementation(t *testing.T) {
	assert.IsType(t, NoopNotifier{}, New(nil))
	assert.IsType(t, NoopNotifier{}, New(&config.NotifierConfig{}))
	assert.IsType(t, &SlackNotifier{}, New(&config.NotifierConfig{SlackWebhookURL: "http://example.invalid/hook", Timeout: "2s"}))

	assert.NoError(t, NoopNotifier{}.Notify(context.Background(), testAlert))
}
