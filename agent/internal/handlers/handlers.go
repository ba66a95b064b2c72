package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"callwatch/agent/database"
	"callwatch/agent/internal/messages"
	"callwatch/agent/internal/models"
	"callwatch/agent/internal/services"
	"callwatch/shared/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const recentAlertsLimit = 10

// Store is the read side of the database the API serves.
type Store interface {
	RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	GetUptime(ctx context.Context) (*models.UptimeConfig, error)
	Ping(ctx context.Context) error
}

type StatsCalculator interface {
	Calculate(ctx context.Context, userID int64) services.Stats
}

type alertView struct {
	Address          string    `json:"address"`
	InitialMarketCap string    `json:"initial_market_cap"`
	Timestamp        time.Time `json:"timestamp"`
	TokenName        string    `json:"token_name"`
	BotName          string    `json:"bot_name"`
	Bonded           bool      `json:"bonded"`
}

type uptimeView struct {
	URL      string     `json:"url"`
	LastPing *time.Time `json:"last_ping"`
	Status   string     `json:"status"`
}

// API serves read-only views over alerts, stats and uptime.
type API struct {
	store Store
	stats StatsCalculator
	log   *logger.Logger
}

func NewAPI(store Store, stats StatsCalculator, appLogger *logger.Logger) *API {
	return &API{store: store, stats: stats, log: appLogger.Named("api")}
}

func RegisterRoutes(router *gin.Engine, api *API) {
	router.GET("/", api.handleRoot)
	router.GET("/alerts", api.handleAlerts)
	router.GET("/stats/:user_id", api.handleStats)
	router.GET("/uptime", api.handleUptime)
	router.GET("/healthz", api.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (a *API) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": WelcomeMessage,
		"endpoints": gin.H{
			"/alerts":          "Get recent token alerts",
			"/stats/{user_id}": "Get user statistics",
			"/uptime":          "Get uptime status",
			"/healthz":         "Liveness check",
			"/metrics":         "Prometheus metrics",
		},
	})
}

func (a *API) handleAlerts(c *gin.Context) {
	alerts, err := a.store.RecentAlerts(c.Request.Context(), recentAlertsLimit)
	if err != nil {
		a.fail(c, "Error fetching alerts", err)
		return
	}
	views := make([]alertView, 0, len(alerts))
	for _, al := range alerts {
		views = append(views, alertView{
			Address:          al.Address,
			InitialMarketCap: messages.FormatMarketCap(al.InitialMarketCap),
			Timestamp:        al.CreatedAt.UTC(),
			TokenName:        al.TokenName,
			BotName:          al.BotName,
			Bonded:           al.Bonded,
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "alerts": views})
}

func (a *API) handleStats(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "user_id must be an integer"})
		return
	}
	stats := a.stats.Calculate(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "stats": stats})
}

func (a *API) handleUptime(c *gin.Context) {
	row, err := a.store.GetUptime(c.Request.Context())
	if errors.Is(err, database.ErrNotFound) || (err == nil && row.URL == "") {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": NoUptimeMessage})
		return
	}
	if err != nil {
		a.fail(c, "Error fetching uptime", err)
		return
	}
	view := uptimeView{URL: row.URL, Status: row.Status}
	if row.LastPing != nil {
		at := row.LastPing.UTC()
		view.LastPing = &at
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "uptime": view})
}

func (a *API) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.log.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) fail(c *gin.Context, msg string, err error) {
	a.log.Error(msg, zap.Error(err), zap.String("requestID", c.GetString(requestIDKey)))
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
}
