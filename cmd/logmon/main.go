package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/common/version"
	"github.com/qiniu/logmon/internal/config"
	"github.com/qiniu/logmon/internal/middleware"
	"github.com/qiniu/logmon/internal/monitoring"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version information and exit")

	// load config first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *showVersion {
		fmt.Println(version.Print("logmon"))
		return
	}
	log.Info().Str("version", version.Info()).Msg("Starting logmon server")

	// configure log level from config
	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := monitoring.NewMonitoringServer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create log monitor")
	}
	defer func() {
		srv.Close()
	}()

	router := gin.New()
	router.Use(middleware.AccessLog())
	router.Use(gin.Recovery())
	srv.UseApi(router)

	srv.Start(ctx)

	httpSrv := &http.Server{Addr: cfg.Server.BindAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown failed")
		}
	}()

	log.Info().Msgf("Starting server on %s", cfg.Server.BindAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("start logmon server failed.")
	}
	log.Info().Msg("logmon server exit...")
}
