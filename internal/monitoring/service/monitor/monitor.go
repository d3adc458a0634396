package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qiniu/logmon/internal/monitoring/metrics"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 30 * time.Second

type Detector interface {
	Detect(ctx context.Context) []model.Alert
}

type SnapshotSource interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
}

type Emitter interface {
	Emit(ctx context.Context, a model.Alert) error
}

type Broadcaster interface {
	Count() int
	Broadcast(ctx context.Context, msg []byte) int
}

// Deps holds what one tick needs.
type Deps struct {
	Detector  Detector
	Stats     SnapshotSource
	Pipeline  Emitter
	Observers Broadcaster
	Interval  time.Duration
}

// Loop drives detection and the stats push on a fixed period.
type Loop struct {
	deps Deps
}

func New(deps Deps) *Loop {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Loop{deps: deps}
}

// Run ticks once immediately, then sleeps Interval after each tick finishes.
// Ticks never overlap and missed periods are not caught up. Run returns when ctx is done.
func (l *Loop) Run(ctx context.Context) {
	log.Info().Dur("interval", l.deps.Interval).Msg("monitor loop started")
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("monitor loop stopped")
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			log.Info().Msg("monitor loop stopped")
			return
		}
		if err := l.Tick(ctx); err != nil {
			log.Error().Err(err).Msg("monitor tick failed")
		}
		timer.Reset(l.deps.Interval)
	}
}

// Tick runs detection and the stats push. The two are independent: a failure in one
// does not skip the other.
func (l *Loop) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.MonitorTickDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	errDetect := guard("detect", func() error { return l.detectAndEmit(ctx) })
	errStats := guard("stats", func() error { return l.pushStats(ctx) })
	return errors.Join(errDetect, errStats)
}

func (l *Loop) detectAndEmit(ctx context.Context) error {
	alerts := l.deps.Detector.Detect(ctx)
	var errs []error
	for _, a := range alerts {
		if err := l.deps.Pipeline.Emit(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	if len(alerts) > 0 {
		log.Info().Int("alerts", len(alerts)).Msg("anomalies detected")
	}
	return errors.Join(errs...)
}

func (l *Loop) pushStats(ctx context.Context) error {
	if l.deps.Observers.Count() == 0 {
		return nil
	}
	snap, err := l.deps.Stats.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("stats snapshot: %w", err)
	}
	msg, err := model.Envelope{Type: model.EnvelopeStats, Data: snap}.Encode()
	if err != nil {
		return fmt.Errorf("encode stats envelope: %w", err)
	}
	l.deps.Observers.Broadcast(ctx, msg)
	return nil
}

func guard(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.MonitorTickFailures.Inc()
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()
	return fn()
}
