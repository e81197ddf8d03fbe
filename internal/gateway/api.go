package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"btcalerts/internal/alert"
	"btcalerts/internal/logger"
	"btcalerts/internal/model"
	"btcalerts/internal/monitor"
	"btcalerts/internal/sltp"
	"btcalerts/internal/store/sqlite"
)

const (
	DefaultTimeout      = 10 * time.Second
	defaultCandleLimit  = 250
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AlertHistory is the read side of the alert journal.
type AlertHistory interface {
	Recent(ctx context.Context, limit int) ([]sqlite.Record, error)
}

// API serves the dashboard REST endpoints and the /ws upgrade.
type API struct {
	svc     *monitor.Service
	hub     *Hub
	history AlertHistory // nil when the journal is disabled
	logger  *slog.Logger
}

// NewAPI creates the REST handler. history may be nil.
func NewAPI(svc *monitor.Service, hub *Hub, history AlertHistory) *API {
	return &API{
		svc:     svc,
		hub:     hub,
		history: history,
		logger:  slog.With("component", "api"),
	}
}

// Routes builds the gin engine. The caller chooses the gin mode.
func (a *API) Routes() *gin.Engine {
	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(a.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/ws", a.ServeWS)

	api := router.Group("/api")
	api.GET("/snapshot", a.GetSnapshot)
	api.GET("/candles", a.GetCandles)
	api.GET("/tfs", a.GetTimeframes)
	api.GET("/rules", a.GetRules)
	api.POST("/rules", a.SetRule)
	api.GET("/alerts/active", a.GetActiveAlerts)
	api.DELETE("/alerts/active/:key", a.ClearActiveAlert)
	api.POST("/alerts/reset", a.ResetAlerts)
	api.GET("/alerts/price", a.GetPriceAlerts)
	api.POST("/alerts/price", a.AddPriceAlert)
	api.DELETE("/alerts/price/:id", a.RemovePriceAlert)
	api.GET("/alerts/history", a.GetAlertHistory)
	api.GET("/position", a.GetPosition)
	api.POST("/position", a.SetPosition)
	api.DELETE("/position", a.ClearPosition)

	// Legacy aliases used by older dashboards.
	router.POST("/set_position", a.SetPosition)
	router.POST("/set_alert", a.SetRule)
	router.POST("/set_price_alert", a.AddPriceAlert)

	return router
}

// Server wraps the routes in an http.Server bound to addr.
func (a *API) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ServeWS handles GET /ws[?since=seq].
func (a *API) ServeWS(c *gin.Context) {
	var since int64
	if s := c.Query("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			a.fail(c, http.StatusBadRequest, errors.New("since must be a non-negative integer"))
			return
		}
		since = v
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("ws upgrade failed", append([]any{"error", err}, logger.LogWithTrace(c.Request.Context())...)...)
		return
	}
	a.hub.Serve(conn, since)
}

// GetSnapshot handles GET /api/snapshot: the latest evaluation Update.
func (a *API) GetSnapshot(c *gin.Context) {
	u, ok := a.svc.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no price received yet"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// GetCandles handles GET /api/candles?tf=1m&limit=N.
func (a *API) GetCandles(c *gin.Context) {
	tf, err := model.ParseTimeframe(c.DefaultQuery("tf", "1m"))
	if err != nil {
		a.fail(c, http.StatusBadRequest, err)
		return
	}
	limit := defaultCandleLimit
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 {
			a.fail(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
	}

	candles := a.svc.Aggregator.Snapshot(tf.Seconds)
	if candles == nil && !a.enabled(tf) {
		a.fail(c, http.StatusBadRequest, errors.New("timeframe "+tf.Label()+" is not enabled"))
		return
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	c.JSON(http.StatusOK, candlesOut(tf, candles))
}

func (a *API) enabled(tf model.Timeframe) bool {
	for _, t := range a.svc.Aggregator.Timeframes() {
		if t.Seconds == tf.Seconds {
			return true
		}
	}
	return false
}

// GetTimeframes handles GET /api/tfs.
func (a *API) GetTimeframes(c *gin.Context) {
	tfs := a.svc.Aggregator.Timeframes()
	out := make([]TFInfo, len(tfs))
	for i, tf := range tfs {
		out[i] = TFInfo{Seconds: tf.Seconds, Label: tf.Label()}
	}
	c.JSON(http.StatusOK, out)
}

// GetRules handles GET /api/rules.
func (a *API) GetRules(c *gin.Context) {
	c.JSON(http.StatusOK, a.svc.Alerts.Rules())
}

// SetRule handles POST /api/rules and /set_alert.
func (a *API) SetRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, http.StatusBadRequest, err)
		return
	}
	tf, err := model.ParseTimeframe(req.Timeframe)
	if err != nil {
		a.fail(c, http.StatusBadRequest, err)
		return
	}
	if err := a.svc.Alerts.SetRule(tf.Label(), req.Indicator, req.Enabled, req.Threshold); err != nil {
		a.fail(c, statusFor(err), err)
		return
	}
	a.logger.Info("alert rule updated", "tf", tf.Label(), "indicator", req.Indicator,
		"enabled", req.Enabled, "threshold", req.Threshold)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetActiveAlerts handles GET /api/alerts/active.
func (a *API) GetActiveAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, a.svc.Alerts.Active())
}

// ClearActiveAlert handles DELETE /api/alerts/active/:key.
func (a *API) ClearActiveAlert(c *gin.Context) {
	key := c.Param("key")
	if !a.svc.Alerts.ClearAlert(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert " + key + " is not active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// ResetAlerts handles POST /api/alerts/reset.
func (a *API) ResetAlerts(c *gin.Context) {
	a.svc.Alerts.ResetAlerts()
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetPriceAlerts handles GET /api/alerts/price.
func (a *API) GetPriceAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, a.svc.Alerts.PriceAlerts())
}

// AddPriceAlert handles POST /api/alerts/price and /set_price_alert.
// Re-adding a target that already fired arms it again.
func (a *API) AddPriceAlert(c *gin.Context) {
	var req PriceAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, http.StatusBadRequest, errors.New("invalid price format"))
		return
	}
	pa, err := a.svc.Alerts.AddPriceAlert(req.Price)
	if err != nil {
		a.fail(c, statusFor(err), err)
		return
	}
	a.logger.Info("price alert added", "id", pa.ID, "target", pa.Target)
	c.JSON(http.StatusOK, gin.H{"status": "success", "alert": pa})
}

// RemovePriceAlert handles DELETE /api/alerts/price/:id.
func (a *API) RemovePriceAlert(c *gin.Context) {
	if !a.svc.Alerts.RemovePriceAlert(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "price alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetAlertHistory handles GET /api/alerts/history?limit=N.
func (a *API) GetAlertHistory(c *gin.Context) {
	if a.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert journal is disabled"})
		return
	}
	limit := defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			a.fail(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(v, maxHistoryLimit)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()
	recs, err := a.history.Recent(ctx, limit)
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// GetPosition handles GET /api/position.
func (a *API) GetPosition(c *gin.Context) {
	pos, ok := a.svc.SLTP.Position()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no position set"})
		return
	}
	lv, _ := a.svc.SLTP.Levels()
	c.JSON(http.StatusOK, gin.H{"position": pos, "levels": lv})
}

// SetPosition handles POST /api/position and /set_position.
func (a *API) SetPosition(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, http.StatusBadRequest, err)
		return
	}
	side, err := sltp.ParseSide(req.PositionType)
	if err != nil {
		a.fail(c, http.StatusBadRequest, err)
		return
	}
	pos := sltp.Position{
		EntryPrice: req.EntryPrice,
		Side:       side,
		SLPercent:  req.SLPercent,
		TPPercent:  req.TPPercent,
		TrailingSL: req.TrailingSL,
		TrailingTP: req.TrailingTP,
	}
	if err := a.svc.SLTP.SetPosition(pos); err != nil {
		a.fail(c, statusFor(err), err)
		return
	}
	lv, _ := a.svc.SLTP.Levels()
	a.logger.Info("position set", "side", side, "entry", pos.EntryPrice, "sl", lv.StopLoss, "tp", lv.TakeProfit)
	c.JSON(http.StatusOK, gin.H{"status": "success", "levels": lv})
}

// ClearPosition handles DELETE /api/position.
func (a *API) ClearPosition(c *gin.Context) {
	a.svc.SLTP.ClearPosition()
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// statusFor maps domain validation errors to 400 and everything else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, alert.ErrInvalidRule),
		errors.Is(err, alert.ErrInvalidPrice),
		errors.Is(err, sltp.ErrInvalidPosition):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail logs the error and writes {"error": ..., "request_id": ...}.
func (a *API) fail(c *gin.Context, status int, err error) {
	requestID := c.GetString(RequestIDContextKey)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	a.logger.Log(c.Request.Context(), level, "api error",
		"request_id", requestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", status,
		"error", err,
	)

	c.JSON(status, gin.H{
		"error":      err.Error(),
		"request_id": requestID,
	})
}
