package model

import (
	"encoding/json"
	"time"
)

// Severity drives downstream routing of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category identifies the rule that produced an alert.
type Category string

const (
	CategoryErrorSpike   Category = "error_spike"
	CategoryServiceError Category = "service_error"
	CategoryPerformance  Category = "performance"
	CategoryTest         Category = "test"
)

// Synthetic sources used by cross-cutting alerts.
const (
	SourceSystem      = "system"
	SourcePerformance = "performance"
)

// Alert is a fully populated, immutable detection result. It is passed by value.
type Alert struct {
	Timestamp   time.Time `json:"timestamp"`
	Severity    Severity  `json:"severity"`
	Source      string    `json:"source"`
	Message     string    `json:"message"`
	Environment string    `json:"environment"`
	Category    Category  `json:"category"`
}

// NewAlert stamps the alert with the given detection time.
func NewAlert(at time.Time, sev Severity, source, message, env string, cat Category) Alert {
	return Alert{
		Timestamp:   at,
		Severity:    sev,
		Source:      source,
		Message:     message,
		Environment: env,
		Category:    cat,
	}
}

// alertRecord is the wire form: timestamp as ISO-8601 text in UTC.
type alertRecord struct {
	Timestamp   string   `json:"timestamp"`
	Severity    Severity `json:"severity"`
	Source      string   `json:"source"`
	Message     string   `json:"message"`
	Environment string   `json:"environment"`
	Category    Category `json:"category"`
}

// Record returns the serialized form stored in the alert history and sent to observers.
func (a Alert) Record() json.RawMessage {
	b, _ := json.Marshal(alertRecord{
		Timestamp:   a.Timestamp.UTC().Format(time.RFC3339Nano),
		Severity:    a.Severity,
		Source:      a.Source,
		Message:     a.Message,
		Environment: a.Environment,
		Category:    a.Category,
	})
	return b
}

// ParseRecord decodes a stored alert record.
func ParseRecord(b []byte) (Alert, error) {
	var r alertRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return Alert{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Alert{}, err
	}
	return Alert{
		Timestamp:   ts,
		Severity:    r.Severity,
		Source:      r.Source,
		Message:     r.Message,
		Environment: r.Environment,
		Category:    r.Category,
	}, nil
}

// Envelope types sent to observers.
const (
	EnvelopeAlert = "alert"
	EnvelopeStats = "stats"
)

// Envelope is the tagged message pushed to observers.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Encode marshals the envelope for a text frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
