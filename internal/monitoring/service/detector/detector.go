package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/qiniu/logmon/internal/config"
	"github.com/qiniu/logmon/internal/monitoring/client"
	"github.com/qiniu/logmon/internal/monitoring/metrics"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/rs/zerolog/log"
)

// Check names, also used as metric labels.
const (
	CheckErrorSpike   = "error_spike"
	CheckServiceError = "service_error"
	CheckLatency      = "latency"
)

// StatsSource answers trailing-window aggregate queries.
type StatsSource interface {
	Aggregate(ctx context.Context, q model.AggregateQuery) (*model.AggregateResult, error)
}

// Thresholds are the fixed per-category boundaries. All comparisons are strictly greater-than.
type Thresholds struct {
	ErrorSpikeWindow time.Duration
	ErrorSpikeCount  int64
	PerSourceWindow  time.Duration
	PerSourceCount   int64
	PerSourceTopN    int
	PerSourceField   string
	LatencyWindow    time.Duration
	LatencyFloorMs   int
	LatencyCount     int64
}

// DefaultThresholds returns the production boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorSpikeWindow: 5 * time.Minute,
		ErrorSpikeCount:  20,
		PerSourceWindow:  5 * time.Minute,
		PerSourceCount:   10,
		PerSourceTopN:    50,
		PerSourceField:   client.FieldService,
		LatencyWindow:    5 * time.Minute,
		LatencyFloorMs:   1000,
		LatencyCount:     5,
	}
}

// ThresholdsFromConfig converts app config, falling back to defaults for unparsable windows.
func ThresholdsFromConfig(c *config.ThresholdsConfig) Thresholds {
	th := DefaultThresholds()
	if c == nil {
		return th
	}
	th.ErrorSpikeWindow = parseDuration(c.ErrorSpikeWindow, th.ErrorSpikeWindow)
	th.PerSourceWindow = parseDuration(c.PerSourceWindow, th.PerSourceWindow)
	th.LatencyWindow = parseDuration(c.LatencyWindow, th.LatencyWindow)
	if c.ErrorSpikeCount > 0 {
		th.ErrorSpikeCount = int64(c.ErrorSpikeCount)
	}
	if c.PerSourceCount > 0 {
		th.PerSourceCount = int64(c.PerSourceCount)
	}
	if c.PerSourceTopN > 0 {
		th.PerSourceTopN = c.PerSourceTopN
	}
	if c.LatencyFloorMs > 0 {
		th.LatencyFloorMs = c.LatencyFloorMs
	}
	if c.LatencyCount > 0 {
		th.LatencyCount = int64(c.LatencyCount)
	}
	return th
}

// CheckResult is the outcome of one check. Err set means the check could not run;
// its Alerts are then empty.
type CheckResult struct {
	Check  string
	Alerts []model.Alert
	Err    error
}

type checkFunc func(ctx context.Context, now time.Time) ([]model.Alert, error)

// Detector runs the fixed battery of checks against a StatsSource.
type Detector struct {
	source      StatsSource
	th          Thresholds
	environment string

	// now allows overriding for tests
	now func() time.Time
}

func New(source StatsSource, th Thresholds, environment string) *Detector {
	if environment == "" {
		environment = "production"
	}
	return &Detector{source: source, th: th, environment: environment, now: time.Now}
}

// Detect runs every check and returns the alerts of the ones that succeeded, in check order.
// Failed checks are logged and contribute nothing.
func (d *Detector) Detect(ctx context.Context) []model.Alert {
	var alerts []model.Alert
	for _, r := range d.RunChecks(ctx) {
		if r.Err != nil {
			metrics.DetectorCheckFailures.WithLabelValues(r.Check).Inc()
			log.Error().Err(r.Err).Str("check", r.Check).Msg("anomaly check failed; treating as no alerts")
			continue
		}
		alerts = append(alerts, r.Alerts...)
	}
	return alerts
}

// RunChecks runs the checks independently; a failure in one does not affect the others.
func (d *Detector) RunChecks(ctx context.Context) []CheckResult {
	checks := []struct {
		name string
		fn   checkFunc
	}{
		{CheckErrorSpike, d.checkErrorSpike},
		{CheckServiceError, d.checkServiceErrors},
		{CheckLatency, d.checkLatency},
	}
	now := d.now()
	out := make([]CheckResult, 0, len(checks))
	for _, c := range checks {
		alerts, err := runIsolated(ctx, now, c.fn)
		out = append(out, CheckResult{Check: c.name, Alerts: alerts, Err: err})
	}
	return out
}

func runIsolated(ctx context.Context, now time.Time, fn checkFunc) (alerts []model.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			alerts, err = nil, fmt.Errorf("check panicked: %v", r)
		}
	}()
	return fn(ctx, now)
}

// checkErrorSpike fires one critical alert when ERROR/FATAL events across all sources exceed the count.
func (d *Detector) checkErrorSpike(ctx context.Context, now time.Time) ([]model.Alert, error) {
	res, err := d.source.Aggregate(ctx, model.AggregateQuery{
		Window: d.th.ErrorSpikeWindow,
		Levels: model.ErrorLevels,
	})
	if err != nil {
		return nil, fmt.Errorf("error spike query: %w", err)
	}
	log.Debug().Int64("count", res.Total).Int64("threshold", d.th.ErrorSpikeCount).Msg("error spike check")
	if res.Total <= d.th.ErrorSpikeCount {
		return nil, nil
	}
	return []model.Alert{model.NewAlert(now, model.SeverityCritical, model.SourceSystem,
		fmt.Sprintf("Error log spike detected: %d errors in the last %s", res.Total, d.th.ErrorSpikeWindow),
		d.environment, model.CategoryErrorSpike)}, nil
}

// checkServiceErrors fires one warning per source whose error count exceeds the per-source count.
func (d *Detector) checkServiceErrors(ctx context.Context, now time.Time) ([]model.Alert, error) {
	res, err := d.source.Aggregate(ctx, model.AggregateQuery{
		Window:  d.th.PerSourceWindow,
		Levels:  model.ErrorLevels,
		GroupBy: d.th.PerSourceField,
		Size:    d.th.PerSourceTopN,
	})
	if err != nil {
		return nil, fmt.Errorf("service error query: %w", err)
	}
	var out []model.Alert
	for _, g := range res.Groups {
		if g.Count <= d.th.PerSourceCount {
			continue
		}
		out = append(out, model.NewAlert(now, model.SeverityWarning, g.Key,
			fmt.Sprintf("Service errors increasing: %d errors in the last %s", g.Count, d.th.PerSourceWindow),
			d.environment, model.CategoryServiceError))
	}
	log.Debug().Int("groups", len(res.Groups)).Int("alerts", len(out)).Msg("service error check")
	return out, nil
}

// checkLatency fires one warning when slow events exceed the count.
func (d *Detector) checkLatency(ctx context.Context, now time.Time) ([]model.Alert, error) {
	res, err := d.source.Aggregate(ctx, model.AggregateQuery{
		Window:       d.th.LatencyWindow,
		MinLatencyMs: d.th.LatencyFloorMs,
	})
	if err != nil {
		return nil, fmt.Errorf("latency query: %w", err)
	}
	log.Debug().Int64("count", res.Total).Int64("threshold", d.th.LatencyCount).Msg("latency check")
	if res.Total <= d.th.LatencyCount {
		return nil, nil
	}
	return []model.Alert{model.NewAlert(now, model.SeverityWarning, model.SourcePerformance,
		fmt.Sprintf("Response time degradation: %d requests at or above %dms", res.Total, d.th.LatencyFloorMs),
		d.environment, model.CategoryPerformance)}, nil
}

func parseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil && v > 0 {
		return v
	}
	return d
}
