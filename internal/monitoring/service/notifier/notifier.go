package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qiniu/logmon/internal/config"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Notifier delivers an alert to an external system.
type Notifier interface {
	Notify(ctx context.Context, a model.Alert) error
}

// NoopNotifier is used when no webhook is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, a model.Alert) error {
	log.Debug().Str("source", a.Source).Msg("no notifier configured, skipping external alert")
	return nil
}

// New returns a SlackNotifier for a non-empty webhook URL and a NoopNotifier otherwise.
func New(c *config.NotifierConfig) Notifier {
	if c == nil || c.SlackWebhookURL == "" {
		return NoopNotifier{}
	}
	timeout, err := time.ParseDuration(c.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 5 * time.Second
	}
	return NewSlackNotifier(c.SlackWebhookURL, &http.Client{Timeout: timeout})
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

// SlackNotifier posts alerts to a Slack incoming webhook behind a circuit breaker.
type SlackNotifier struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

func NewSlackNotifier(url string, client *http.Client) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "slack-notifier",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return &SlackNotifier{url: url, client: client, cb: cb}
}

func (n *SlackNotifier) Notify(ctx context.Context, a model.Alert) error {
	body, err := json.Marshal(buildSlackPayload(a))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	_, err = n.cb.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, body)
	})
	if err != nil {
		return &model.UpstreamError{Upstream: "slack", Op: "notify", Err: err}
	}
	return nil
}

func (n *SlackNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func buildSlackPayload(a model.Alert) slackPayload {
	return slackPayload{
		Text: "Critical Alert: " + a.Message,
		Attachments: []slackAttachment{{
			Color: "danger",
			Fields: []slackField{
				{Title: "Service", Value: a.Source, Short: true},
				{Title: "Environment", Value: a.Environment, Short: true},
				{Title: "Time", Value: a.Timestamp.Format("2006-01-02 15:04:05"), Short: true},
				{Title: "Type", Value: string(a.Category), Short: true},
			},
		}},
	}
}
