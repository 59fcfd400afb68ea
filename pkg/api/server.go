// Package api implements Tachikoma's mission-control HTTP surface: start,
// observe, and steer Mission runs; inspect Forge deliberations; and query
// the audit chain's integrity, all over a gin router.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tachikoma-dev/tachikoma/pkg/audit"
	"github.com/tachikoma-dev/tachikoma/pkg/config"
	"github.com/tachikoma-dev/tachikoma/pkg/database"
	"github.com/tachikoma-dev/tachikoma/pkg/events"
	"github.com/tachikoma-dev/tachikoma/pkg/forge"
	"github.com/tachikoma-dev/tachikoma/pkg/loop"
	"github.com/tachikoma-dev/tachikoma/pkg/mcp"
	"github.com/tachikoma-dev/tachikoma/pkg/services"
	"github.com/tachikoma-dev/tachikoma/pkg/session"
	"github.com/tachikoma-dev/tachikoma/pkg/version"
)

// MissionStarter drives one Mission run to completion in the background.
// The caller (cmd/tachikoma) supplies this so the HTTP layer never has to
// know how to construct a loop.Engine (provider, primitive registry, and
// tracker are all process-wide resources assembled at startup).
type MissionStarter func(ctx context.Context, taskID string) (*loop.Mission, *session.Session, error)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config

	pool       *pgxpool.Pool
	sessionMgr *session.Manager
	connMgr    *events.ConnectionManager
	auditStore *audit.Store
	starter    MissionStarter

	healthMonitor  *mcp.HealthMonitor              // nil if MCP disabled
	warningService *services.SystemWarningsService // nil if MCP disabled

	missionsMu sync.RWMutex
	missions   map[uuid.UUID]*loop.Mission

	forgeMu sync.RWMutex
	forges  map[uuid.UUID]*forge.Engine
}

// NewServer creates a new API server and registers all routes.
func NewServer(
	cfg *config.Config,
	pool *pgxpool.Pool,
	sessionMgr *session.Manager,
	connMgr *events.ConnectionManager,
	auditStore *audit.Store,
	starter MissionStarter,
) *Server {
	gin.SetMode(ginModeOr(cfg.HTTP.GinMode))
	r := gin.New()

	s := &Server{
		router:     r,
		cfg:        cfg,
		pool:       pool,
		sessionMgr: sessionMgr,
		connMgr:    connMgr,
		auditStore: auditStore,
		starter:    starter,
		missions:   make(map[uuid.UUID]*loop.Mission),
		forges:     make(map[uuid.UUID]*forge.Engine),
	}

	s.setupRoutes()
	return s
}

func ginModeOr(mode string) string {
	if mode == "" {
		return gin.ReleaseMode
	}
	return mode
}

// SetHealthMonitor sets the MCP health monitor for the health endpoint.
func (s *Server) SetHealthMonitor(monitor *mcp.HealthMonitor) {
	s.healthMonitor = monitor
}

// SetWarningsService sets the system warnings service for the health endpoint.
func (s *Server) SetWarningsService(svc *services.SystemWarningsService) {
	s.warningService = svc
}

// RegisterMission makes a Mission visible to GET/pause/resume/stop
// handlers. MissionStarter-produced missions are registered automatically
// by the start handler; call this directly only from tests or alternate
// entry points.
func (s *Server) RegisterMission(m *loop.Mission) {
	s.missionsMu.Lock()
	defer s.missionsMu.Unlock()
	s.missions[m.ID] = m
}

func (s *Server) lookupMission(id uuid.UUID) (*loop.Mission, bool) {
	s.missionsMu.RLock()
	defer s.missionsMu.RUnlock()
	m, ok := s.missions[id]
	return m, ok
}

// RegisterForge makes a Forge deliberation engine visible to GET
// /forge/:id. Called by whatever component spins up a deliberation (the
// loop engine on a redline, or an operator-triggered review).
func (s *Server) RegisterForge(id uuid.UUID, eng *forge.Engine) {
	s.forgeMu.Lock()
	defer s.forgeMu.Unlock()
	s.forges[id] = eng
}

func (s *Server) lookupForge(id uuid.UUID) (*forge.Engine, bool) {
	s.forgeMu.RLock()
	defer s.forgeMu.RUnlock()
	e, ok := s.forges[id]
	return e, ok
}

// Router exposes the underlying gin engine, e.g. for tests using
// httptest.NewServer.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), requestLogger(), securityHeaders())
	s.router.MaxMultipartMemory = 2 << 20 // 2 MiB

	s.router.GET("/healthz", s.healthHandler)

	missions := s.router.Group("/missions")
	missions.POST("", s.startMissionHandler)
	missions.GET("/:id", s.getMissionHandler)
	missions.GET("/:id/events", s.streamMissionEventsHandler)
	missions.POST("/:id/pause", s.pauseMissionHandler)
	missions.POST("/:id/resume", s.resumeMissionHandler)
	missions.POST("/:id/stop", s.stopMissionHandler)

	s.router.GET("/forge/:id", s.getForgeHandler)

	auditGroup := s.router.Group("/audit")
	auditGroup.GET("/verify", s.verifyAuditHandler)
	auditGroup.GET("/export", s.exportAuditHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /healthz.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Version: version.Full()}

	if s.pool != nil {
		dbHealth, err := database.Health(reqCtx, s.pool)
		resp.Database = dbHealth
		if err != nil {
			resp.Status = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}

	if s.healthMonitor != nil {
		resp.MCP = s.healthMonitor.GetStatuses()
		if !s.healthMonitor.IsHealthy() {
			resp.Status = "degraded"
		}
	}
	if s.warningService != nil {
		if w := s.warningService.GetWarnings(); len(w) > 0 {
			resp.Warnings = w
		}
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
