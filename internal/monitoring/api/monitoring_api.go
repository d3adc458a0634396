package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/rs/zerolog/log"
)

const (
	defaultErrorsLimit = 50
	maxErrorsLimit     = 500
	defaultAlertsLimit = 100
)

// GET /v1/stats
func (api *Api) GetStats(c *gin.Context) {
	snap, err := api.deps.Stats.Snapshot(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load stats snapshot")
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GET /v1/errors?limit=50
func (api *Api) ListRecentErrors(c *gin.Context) {
	limit, ok := parseLimit(c, defaultErrorsLimit, maxErrorsLimit)
	if !ok {
		return
	}
	events, err := api.deps.Stats.RecentErrors(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to load recent errors")
		upstreamError(c, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	c.JSON(http.StatusOK, events)
}

// GET /v1/alerts?limit=100
func (api *Api) ListAlerts(c *gin.Context) {
	limit, ok := parseLimit(c, defaultAlertsLimit, api.deps.History.Capacity())
	if !ok {
		return
	}
	records, err := api.deps.History.Range(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to read alert history")
		upstreamError(c, err)
		return
	}
	out := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		if !json.Valid(r) {
			log.Warn().Str("record", string(r)).Msg("skipping undecodable alert record")
			continue
		}
		out = append(out, json.RawMessage(r))
	}
	c.JSON(http.StatusOK, out)
}

type testAlertRequest struct {
	Environment string `json:"environment"`
}

// POST /v1/alerts/test
func (api *Api) CreateTestAlert(c *gin.Context) {
	var req testAlertRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_PARAMETER", "invalid request body")
			return
		}
	}
	env := req.Environment
	if env == "" {
		env = "development"
	}

	a := model.NewAlert(time.Now(), model.SeverityWarning, "test-service", "test alert", env, model.CategoryTest)
	if err := api.deps.Pipeline.Emit(c.Request.Context(), a); err != nil {
		// broadcast already happened; only persistence failed
		log.Warn().Err(err).Msg("test alert emitted but not persisted")
		c.JSON(http.StatusAccepted, gin.H{"message": "test alert created", "persisted": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "test alert created", "persisted": true})
}

func parseLimit(c *gin.Context, def, max int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		if def > max {
			def = max
		}
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		writeError(c, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be between 1 and "+strconv.Itoa(max))
		return 0, false
	}
	return n, true
}

func upstreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrMalformedResponse):
		writeError(c, http.StatusBadGateway, "MALFORMED_UPSTREAM_RESPONSE", err.Error())
	case errors.Is(err, model.ErrUpstreamUnavailable):
		writeError(c, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
