package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/logmon/internal/config"
	"github.com/qiniu/logmon/internal/monitoring/api"
	"github.com/qiniu/logmon/internal/monitoring/client"
	"github.com/qiniu/logmon/internal/monitoring/service/detector"
	"github.com/qiniu/logmon/internal/monitoring/service/monitor"
	"github.com/qiniu/logmon/internal/monitoring/service/notifier"
	"github.com/qiniu/logmon/internal/monitoring/service/observer"
	"github.com/qiniu/logmon/internal/monitoring/service/pipeline"
	"github.com/qiniu/logmon/internal/monitoring/store"
	"github.com/rs/zerolog/log"
)

// MonitoringServer owns the long-lived components of the log monitor.
type MonitoringServer struct {
	config     *config.Config
	esClient   *client.ElasticsearchClient
	history    store.AlertStore
	closeStore func() error
	registry   *observer.Registry
	pipeline   *pipeline.Pipeline
	loop       *monitor.Loop
	api        *api.Api
}

// NewMonitoringServer builds every component from cfg. It does not start the loop.
func NewMonitoringServer(ctx context.Context, cfg *config.Config) (*MonitoringServer, error) {
	esClient, err := client.NewElasticsearchClient(&cfg.Elasticsearch, nil)
	if err != nil {
		return nil, err
	}

	history, closeStore, err := store.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert store: %w", err)
	}

	registry := observer.NewRegistry()
	p := pipeline.New(history, registry, notifier.New(&cfg.Notifier))
	det := detector.New(esClient, detector.ThresholdsFromConfig(&cfg.Thresholds), cfg.Monitor.Environment)

	interval, err := time.ParseDuration(cfg.Monitor.Interval)
	if err != nil || interval <= 0 {
		log.Warn().Str("interval", cfg.Monitor.Interval).Msg("invalid monitor interval, using default")
		interval = monitor.DefaultInterval
	}
	loop := monitor.New(monitor.Deps{
		Detector:  det,
		Stats:     esClient,
		Pipeline:  p,
		Observers: registry,
		Interval:  interval,
	})

	log.Info().
		Strs("elasticsearch", cfg.Elasticsearch.Addresses).
		Str("index", cfg.Elasticsearch.IndexPattern).
		Str("store", cfg.Store.Driver).
		Bool("slack", cfg.Notifier.SlackWebhookURL != "").
		Msg("log monitor initialized successfully")

	return &MonitoringServer{
		config:     cfg,
		esClient:   esClient,
		history:    history,
		closeStore: closeStore,
		registry:   registry,
		pipeline:   p,
		loop:       loop,
	}, nil
}

// UseApi registers the query surface and the observer endpoint.
func (s *MonitoringServer) UseApi(router *gin.Engine) {
	s.api = api.NewApi(api.Deps{
		Stats:     s.esClient,
		History:   s.history,
		Pipeline:  s.pipeline,
		Observers: observer.NewHandler(s.registry),
		Config:    &s.config.API,
	}, router)
}

// Start runs the monitor loop in the background until ctx is done.
func (s *MonitoringServer) Start(ctx context.Context) {
	go s.loop.Run(ctx)
}

// Close disconnects observers and releases the alert store.
func (s *MonitoringServer) Close() error {
	log.Info().Msg("Starting shutdown...")
	s.registry.CloseAll()
	if s.closeStore != nil {
		if err := s.closeStore(); err != nil {
			log.Error().Err(err).Msg("Failed to close alert store")
			return err
		}
	}
	log.Info().Msg("log monitor shut down")
	return nil
}
