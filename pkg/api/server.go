// Package api exposes the gateway over HTTP and WebSocket with gin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/steward-ai/steward/pkg/budget"
	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/health"
	"github.com/steward-ai/steward/pkg/router"
	"github.com/steward-ai/steward/pkg/services"
)

// Server wires the service layer to the HTTP surface.
type Server struct {
	chat     *services.ChatService
	router   *router.Router
	tracker  *health.Tracker
	enforcer *budget.Enforcer
	cfg      *config.ServerConfig
	auth     *authValidator
}

// NewServer creates the API server. The auth secret is read from the
// environment variable named by cfg.AuthSecretEnv; when unset, privileged
// endpoints reject every request.
func NewServer(cfg *config.ServerConfig, chat *services.ChatService, selectRouter *router.Router, tracker *health.Tracker, enforcer *budget.Enforcer) *Server {
	return &Server{
		chat:     chat,
		router:   selectRouter,
		tracker:  tracker,
		enforcer: enforcer,
		cfg:      cfg,
		auth:     newAuthValidator(cfg),
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/health", s.handleHealth)

	v1 := engine.Group("/api/v1")
	v1.POST("/chat", s.handleChat)
	v1.GET("/chat/ws", s.handleChatWS)
	v1.POST("/plan", s.handlePlan)
	v1.GET("/router/stats", s.handleRouterStats)
	v1.GET("/health/agents", s.handleAgentHealth)

	privileged := v1.Group("")
	privileged.Use(s.requireAuth())
	privileged.POST("/router/cache/clear", s.handleCacheClear)
	privileged.GET("/costs/summary", s.handleCostSummary)

	return engine
}

// requestLogger logs one line per request via slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "steward",
	})
}

func (s *Server) handleRouterStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, s.router.Stats(ctx))
}

func (s *Server) handleCacheClear(c *gin.Context) {
	if err := s.router.ClearCache(c.Request.Context()); err != nil {
		writeFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) handleAgentHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Summary())
}

func (s *Server) handleCostSummary(c *gin.Context) {
	filter := budget.SummaryFilter{
		Project: c.Query("project"),
		AgentID: c.Query("agent"),
		Model:   c.Query("model"),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "validation", "message": "since must be RFC3339"}})
			return
		}
		filter.Since = t
	}
	if until := c.Query("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "validation", "message": "until must be RFC3339"}})
			return
		}
		filter.Until = t
	}
	summary, err := s.enforcer.Summary(filter)
	if err != nil {
		writeFault(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
