package pipeline

import (
	"context"
	"fmt"

	"github.com/qiniu/logmon/internal/monitoring/metrics"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/qiniu/logmon/internal/monitoring/service/notifier"
	"github.com/rs/zerolog/log"
)

// Store is the part of the alert history the pipeline writes to.
type Store interface {
	PushFront(ctx context.Context, record []byte) error
}

// Broadcaster fans a message out to live observers.
type Broadcaster interface {
	Count() int
	Broadcast(ctx context.Context, msg []byte) int
}

// Pipeline is the single entry point for alert emission.
type Pipeline struct {
	store     Store
	observers Broadcaster
	notifier  notifier.Notifier
}

func New(store Store, observers Broadcaster, n notifier.Notifier) *Pipeline {
	if n == nil {
		n = notifier.NoopNotifier{}
	}
	return &Pipeline{store: store, observers: observers, notifier: n}
}

// Emit persists, broadcasts and, for critical alerts, notifies, in that order.
// A persistence failure is logged and returned but does not stop the later steps.
// Notifier failures are logged and swallowed.
func (p *Pipeline) Emit(ctx context.Context, a model.Alert) error {
	metrics.AlertsEmitted.WithLabelValues(string(a.Category), string(a.Severity)).Inc()
	record := a.Record()

	var storeErr error
	if err := p.store.PushFront(ctx, record); err != nil {
		metrics.AlertStoreFailures.Inc()
		log.Error().Err(err).Str("category", string(a.Category)).Str("source", a.Source).Msg("failed to persist alert")
		storeErr = fmt.Errorf("persist alert: %w", err)
	}

	if p.observers.Count() > 0 {
		msg, err := model.Envelope{Type: model.EnvelopeAlert, Data: record}.Encode()
		if err != nil {
			log.Error().Err(err).Msg("failed to encode alert envelope")
		} else {
			n := p.observers.Broadcast(ctx, msg)
			log.Debug().Int("delivered", n).Str("category", string(a.Category)).Msg("alert broadcast")
		}
	}

	if a.Severity == model.SeverityCritical {
		if err := p.notifier.Notify(ctx, a); err != nil {
			metrics.NotifierFailures.Inc()
			log.Error().Err(err).Str("source", a.Source).Msg("failed to send external alert")
		}
	}

	log.Info().
		Str("severity", string(a.Severity)).
		Str("category", string(a.Category)).
		Str("source", a.Source).
		Str("message", a.Message).
		Msg("alert emitted")
	return storeErr
}
