// Package api serves the fact store read-only over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"carpulse/internal/auth"
	"carpulse/internal/facts"
	"carpulse/internal/ingest"
	"carpulse/internal/registry"
	"carpulse/pkg/database"
	"carpulse/pkg/logger"
	"carpulse/pkg/models"
)

type Handler struct {
	DB       *database.DB
	Registry *registry.Repo
	Facts    *facts.Repo
	Runs     *ingest.RunRepo
	log      *logger.Logger
}

func NewHandler(db *database.DB, baseLog *logger.Logger) *Handler {
	return &Handler{
		DB:       db,
		Registry: registry.NewRepo(db, baseLog),
		Facts:    facts.NewRepo(db, baseLog),
		Runs:     ingest.NewRunRepo(db),
		log:      baseLog.With("component", "api"),
	}
}

// NewRouter wires every route. Model and run routes sit behind the token
// middleware, which lets everything through when no secret is set.
func NewRouter(h *Handler, tokens auth.TokenService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLog())
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/health", h.health)
	router.GET("/ready", h.ready)

	protected := router.Group("")
	protected.Use(auth.Middleware(tokens, auth.ScopeRead))
	h.RegisterRoutes(protected)
	return router
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/models", h.listModels)
	rg.GET("/models/:id", h.getModel)
	rg.GET("/models/:id/sales", h.modelSales)
	rg.GET("/models/:id/interest", h.modelInterest)
	rg.GET("/runs", h.listRuns)
}

func (h *Handler) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		kv := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).String(),
		}
		if claims := auth.GetClaims(c); claims != nil {
			kv = append(kv, "subject", claims.Subject)
		}
		h.log.Debug("request", kv...)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "db": string(h.DB.Dialect)})
}

func (h *Handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.DB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "db_error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "db": "ok"})
}

func (h *Handler) listModels(c *gin.Context) {
	q := registry.ListQuery{
		Brand:  c.Query("brand"),
		Q:      c.Query("q"),
		Limit:  parseInt(c.Query("limit"), 20),
		Offset: parseInt(c.Query("offset"), 0),
	}
	q.Limit, q.Offset = registry.Page(q.Limit, q.Offset)

	total, err := h.Registry.Count(c.Request.Context(), q)
	if err != nil {
		h.fail(c, "count failed", err)
		return
	}
	items, err := h.Registry.List(c.Request.Context(), q)
	if err != nil {
		h.fail(c, "list failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"limit":  q.Limit,
		"offset": q.Offset,
		"items":  items,
	})
}

func (h *Handler) getModel(c *gin.Context) {
	m, ok := h.loadModel(c)
	if !ok {
		return
	}
	images, err := h.Registry.Images(c.Request.Context(), m.ModelID)
	if err != nil {
		h.fail(c, "images failed", err)
		return
	}
	if images == nil {
		images = []models.ModelImage{}
	}
	c.JSON(http.StatusOK, gin.H{"model": m, "images": images})
}

func (h *Handler) modelSales(c *gin.Context) {
	m, ok := h.loadModel(c)
	if !ok {
		return
	}
	from, to, ok := monthRange(c)
	if !ok {
		return
	}
	items, err := h.Facts.SalesByModel(c.Request.Context(), m.ModelID, from, to)
	if err != nil {
		h.fail(c, "sales failed", err)
		return
	}
	if items == nil {
		items = []models.MonthlySalesFact{}
	}
	c.JSON(http.StatusOK, gin.H{"model_id": m.ModelID, "items": items})
}

func (h *Handler) modelInterest(c *gin.Context) {
	m, ok := h.loadModel(c)
	if !ok {
		return
	}
	from, to, ok := monthRange(c)
	if !ok {
		return
	}
	items, err := h.Facts.InterestByModel(c.Request.Context(), m.ModelID, from, to)
	if err != nil {
		h.fail(c, "interest failed", err)
		return
	}
	if items == nil {
		items = []models.MonthlyInterestFact{}
	}
	c.JSON(http.StatusOK, gin.H{"model_id": m.ModelID, "items": items})
}

func (h *Handler) listRuns(c *gin.Context) {
	runs, err := h.Runs.List(c.Request.Context(), parseInt(c.Query("limit"), 50))
	if err != nil {
		h.fail(c, "runs failed", err)
		return
	}
	if runs == nil {
		runs = []models.IngestionRun{}
	}
	c.JSON(http.StatusOK, gin.H{"items": runs})
}

func (h *Handler) loadModel(c *gin.Context) (*models.CanonicalModel, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid model id"})
		return nil, false
	}
	m, err := h.Registry.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		h.fail(c, "get failed", err)
		return nil, false
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil, false
	}
	return m, true
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	h.log.Error(msg, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func monthRange(c *gin.Context) (models.Month, models.Month, bool) {
	var out [2]models.Month
	for i, key := range []string{"from", "to"} {
		v := strings.TrimSpace(c.Query(key))
		if v == "" {
			continue
		}
		m, err := models.ParseMonth(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key + " month, want YYYY-MM"})
			return "", "", false
		}
		out[i] = m
	}
	return out[0], out[1], true
}

func parseInt(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
