package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qiniu/logmon/internal/config"
	"github.com/qiniu/logmon/internal/middleware"
	"github.com/qiniu/logmon/internal/monitoring/model"
)

// StatsReader serves the read side of the stats source.
type StatsReader interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
	RecentErrors(ctx context.Context, limit int) ([]model.Event, error)
}

// HistoryReader reads the alert history, newest first.
type HistoryReader interface {
	Range(ctx context.Context, count int) ([][]byte, error)
	Capacity() int
}

type Emitter interface {
	Emit(ctx context.Context, a model.Alert) error
}

type Deps struct {
	Stats     StatsReader
	History   HistoryReader
	Pipeline  Emitter
	Observers http.Handler
	Config    *config.APIConfig
}

type Api struct {
	deps Deps
}

func NewApi(deps Deps, router *gin.Engine) *Api {
	if deps.Config == nil {
		deps.Config = &config.APIConfig{}
	}
	api := &Api{deps: deps}
	api.setupRouters(router)
	return api
}

func (api *Api) setupRouters(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/v1/stats", api.GetStats)
	router.GET("/v1/errors", api.ListRecentErrors)
	router.GET("/v1/alerts", api.ListAlerts)
	router.POST("/v1/alerts/test",
		middleware.Authentication(api.deps.Config.Token),
		middleware.RateLimit(api.deps.Config.TestAlertRatePerMin, api.deps.Config.TestAlertBurst),
		api.CreateTestAlert,
	)
	if api.deps.Observers != nil {
		router.GET("/ws", gin.WrapH(api.deps.Observers))
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, model.ErrorResponse{Error: model.ErrorDetail{Code: code, Message: message}})
}
