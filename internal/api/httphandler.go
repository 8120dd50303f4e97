package api

import (
	"adslots/internal/gpt"
	"adslots/internal/loop"
	"adslots/internal/metrics"
	"adslots/internal/page"
	"adslots/internal/ports"
	"adslots/internal/types"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Handler drives one live page. Every page access is run on the page's scheduler.
type Handler struct {
	Page     *page.Page
	Sched    ports.Scheduler
	Recorder *gpt.Recorder
	Store    ports.ImpressionStore
	Metrics  *metrics.Metrics

	counts *ttlCache[string, types.ImpressionCounts]
}

// CountsTTL is how long impression counts are served from memory. Zero disables caching.
var CountsTTL = 2 * time.Second

type viewportBody struct {
	In *bool `json:"in"`
}

type visibilityBody struct {
	Visible *bool `json:"visible"`
}

func NewHandler(p *page.Page, s ports.Scheduler, rec *gpt.Recorder, store ports.ImpressionStore, m *metrics.Metrics) *Handler {
	return &Handler{
		Page:     p,
		Sched:    s,
		Recorder: rec,
		Store:    store,
		Metrics:  m,
		counts:   newTTLCache[string, types.ImpressionCounts](CountsTTL),
	}
}

func (h *Handler) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestID(), requestLogger(), gin.CustomRecovery(recovery))

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Content-Type", "X-Request-ID"}
	config.ExposeHeaders = []string{"X-Request-ID"}
	router.Use(cors.New(config))

	router.GET("/health", func(c *gin.Context) {
		writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
	})

	units := router.Group("/units")
	{
		units.GET("", h.listUnits)
		units.POST("", h.mountUnit)
		// element ids contain slashes, e.g. travel/europe-0
		units.GET("/*element", h.getUnit)
		units.DELETE("/*element", h.unmountUnit)
		units.PUT("/*element", h.setViewport)
	}
	router.PUT("/visibility", h.setVisibility)
	router.GET("/pending", h.listPending)
	router.GET("/commands", h.listCommands)
	router.GET("/impressions", h.getImpressions)

	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Metrics.Registry, promhttp.HandlerOpts{})))
	}
	return router
}

func (h *Handler) listUnits(c *gin.Context) {
	var out []types.UnitState
	loop.Await(h.Sched, func() { out = h.Page.Units() })
	writeJSON(c, http.StatusOK, out)
}

func (h *Handler) getUnit(c *gin.Context) {
	elementID := elementParam(c)
	var (
		st  types.UnitState
		err error
	)
	loop.Await(h.Sched, func() { st, err = h.Page.Unit(elementID) })
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (h *Handler) mountUnit(c *gin.Context) {
	var cfg types.UnitConfig
	if err := readJSON(c, &cfg); err != nil {
		writeError(c, err)
		return
	}
	var (
		st  types.UnitState
		err error
	)
	loop.Await(h.Sched, func() { st, err = h.Page.Mount(cfg) })
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, st)
}

func (h *Handler) unmountUnit(c *gin.Context) {
	elementID := elementParam(c)
	var err error
	loop.Await(h.Sched, func() { err = h.Page.Unmount(elementID) })
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// setViewport handles PUT /units/<element id>/viewport.
func (h *Handler) setViewport(c *gin.Context) {
	elementID, ok := strings.CutSuffix(elementParam(c), "/viewport")
	if !ok {
		writeJSON(c, http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var body viewportBody
	if err := readJSON(c, &body); err != nil {
		writeError(c, err)
		return
	}
	if body.In == nil {
		writeError(c, types.Err(types.ErrInvalidConfig, nil, "\"in\" is required"))
		return
	}
	var (
		st  types.UnitState
		err error
	)
	loop.Await(h.Sched, func() {
		if err = h.Page.SetInViewport(elementID, *body.In); err == nil {
			st, err = h.Page.Unit(elementID)
		}
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (h *Handler) setVisibility(c *gin.Context) {
	var body visibilityBody
	if err := readJSON(c, &body); err != nil {
		writeError(c, err)
		return
	}
	if body.Visible == nil {
		writeError(c, types.Err(types.ErrInvalidConfig, nil, "\"visible\" is required"))
		return
	}
	loop.Await(h.Sched, func() { h.Page.SetVisible(*body.Visible) })
	writeJSON(c, http.StatusOK, gin.H{"visible": *body.Visible})
}

func (h *Handler) listPending(c *gin.Context) {
	var out []string
	loop.Await(h.Sched, func() { out = h.Page.Pending() })
	writeJSON(c, http.StatusOK, out)
}

func (h *Handler) listCommands(c *gin.Context) {
	if h.Recorder == nil {
		writeJSON(c, http.StatusNotImplemented, gin.H{"error": "command log not available"})
		return
	}
	writeJSON(c, http.StatusOK, h.Recorder.Calls())
}

// getImpressions handles GET /impressions?ad_id=...&placement=...
func (h *Handler) getImpressions(c *gin.Context) {
	if h.Store == nil {
		writeJSON(c, http.StatusNotImplemented, gin.H{"error": "no impression store configured"})
		return
	}
	adID := c.Query("ad_id")
	if adID == "" {
		writeError(c, types.Err(types.ErrInvalidConfig, nil, "ad_id is required"))
		return
	}
	placement := c.DefaultQuery("placement", types.DefaultPlacement)
	key := adID + "|" + placement
	if counts, ok := h.counts.get(key); ok {
		writeJSON(c, http.StatusOK, counts)
		return
	}
	counts, err := h.Store.Counts(c.Request.Context(), adID, placement)
	if err != nil {
		writeError(c, err)
		return
	}
	h.counts.set(key, counts)
	writeJSON(c, http.StatusOK, counts)
}

func elementParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("element"), "/")
}

func readJSON(c *gin.Context, v any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		return types.Err(types.ErrInvalidConfig, err, "read error")
	}
	if len(body) == 0 {
		return types.Err(types.ErrInvalidConfig, nil, "empty body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return types.Err(types.ErrInvalidConfig, err, "invalid json")
	}
	return nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrDuplicateElement):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidConfig), errors.Is(err, types.ErrInvalidTargeting):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}
	writeJSON(c, code, gin.H{"error": err.Error()})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(c *gin.Context, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to write response")
		return
	}
	c.Data(code, "application/json", b)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"request_id": c.GetString("request_id"),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		}).Debug("HTTP request")
	}
}

func recovery(c *gin.Context, recovered any) {
	log.WithFields(log.Fields{
		"request_id": c.GetString("request_id"),
		"error":      recovered,
		"path":       c.Request.URL.Path,
	}).Error("panic recovered")
	writeJSON(c, http.StatusInternalServerError, gin.H{"error": "internal server error"})
	c.Abort()
}
