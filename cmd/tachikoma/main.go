// Command tachikoma runs the mission-control HTTP server: it wires the
// loop engine's dependencies (provider, primitive registry, tracker),
// starts the audit and event-notification pipelines, and serves the API
// until it receives a termination signal.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tachikoma-dev/tachikoma/pkg/api"
	"github.com/tachikoma-dev/tachikoma/pkg/audit"
	"github.com/tachikoma-dev/tachikoma/pkg/cleanup"
	"github.com/tachikoma-dev/tachikoma/pkg/config"
	"github.com/tachikoma-dev/tachikoma/pkg/database"
	"github.com/tachikoma-dev/tachikoma/pkg/events"
	"github.com/tachikoma-dev/tachikoma/pkg/loop"
	"github.com/tachikoma-dev/tachikoma/pkg/masking"
	"github.com/tachikoma-dev/tachikoma/pkg/mcp"
	"github.com/tachikoma-dev/tachikoma/pkg/primitive"
	"github.com/tachikoma-dev/tachikoma/pkg/provider"
	"github.com/tachikoma-dev/tachikoma/pkg/services"
	"github.com/tachikoma-dev/tachikoma/pkg/session"
	"github.com/tachikoma-dev/tachikoma/pkg/tracker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpAddr := getEnv("HTTP_PORT", ":8080")
	log.Printf("Starting Tachikoma")
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, filepath.Join(*configDir, "config.yaml"))
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	if cfg.HTTP.Port != "" {
		httpAddr = ":" + cfg.HTTP.Port
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	pool, err := database.NewPool(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	log.Println("Connected to PostgreSQL, migrations applied")

	sqlDB, err := sql.Open("pgx", dbConfig.DSN())
	if err != nil {
		log.Fatalf("Failed to open sql.DB for event notifications: %v", err)
	}
	defer sqlDB.Close()

	auditStore := audit.NewStore(pool)
	auditLogger := slog.Default()
	captureCfg := audit.DefaultCaptureConfig()
	capture := audit.NewCapture(ctx, captureCfg, audit.DefaultBatchConfig(), auditStore, auditLogger)
	log.Println("Audit capture pipeline started")

	maskingSvc := masking.NewService(cfg.Masking)

	registry := buildPrimitiveRegistry(cfg.Primitives, maskingSvc, capture)

	warningsSvc := services.NewSystemWarningsService()
	var healthMonitor *mcp.HealthMonitor
	if len(cfg.MCPServers) > 0 {
		mcpClient, monitor, err := buildMCPPrimitives(ctx, cfg.MCPServers, registry, maskingSvc, warningsSvc)
		if err != nil {
			log.Fatalf("Failed to wire MCP servers: %v", err)
		}
		defer mcpClient.Close()
		monitor.Start(ctx)
		defer monitor.Stop()
		healthMonitor = monitor
		log.Printf("MCP: %d server(s) registered", len(cfg.MCPServers))
	}

	trk, err := buildTracker(cfg.Tracker)
	if err != nil {
		log.Fatalf("Failed to build tracker: %v", err)
	}

	prov, err := buildProvider(cfg.Provider)
	if err != nil {
		log.Fatalf("Failed to build provider: %v", err)
	}
	log.Printf("Provider: %s (%s)", cfg.Provider.Kind, prov.ModelName())

	sessionMgr := session.NewManager()

	catchup := events.NewSQLCatchupQuerier(sqlDB)
	connMgr := events.NewConnectionManager(catchup)
	listener := events.NewNotifyListener(dbConfig.DSN(), connMgr)
	if err := listener.Start(ctx); err != nil {
		log.Fatalf("Failed to start event listener: %v", err)
	}
	connMgr.SetListener(listener)
	publisher := events.NewEventPublisher(sqlDB)
	log.Println("Event notification pipeline started")

	cleanupSvc := cleanup.NewService(cfg.Retention, sessionMgr)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	starter := newMissionStarter(cfg.Loop, prov, registry, trk, sessionMgr, publisher)

	server := api.NewServer(cfg, pool, sessionMgr, connMgr, auditStore, starter)
	server.SetWarningsService(warningsSvc)
	if healthMonitor != nil {
		server.SetHealthMonitor(healthMonitor)
	}

	go func() {
		log.Printf("HTTP server listening on %s", httpAddr)
		if err := server.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during HTTP shutdown: %v", err)
	}
}

// newMissionStarter builds the MissionStarter closure the API server uses
// to bring up a loop.Engine for a requested task. Each mission runs the
// engine in its own goroutine and drains its event channel into the
// notification pipeline and the session's bookkeeping until the run ends.
func newMissionStarter(
	loopCfg config.LoopConfig,
	prov provider.Provider,
	registry *primitive.Registry,
	trk tracker.Tracker,
	sessionMgr *session.Manager,
	publisher *events.EventPublisher,
) api.MissionStarter {
	return func(ctx context.Context, taskID string) (*loop.Mission, *session.Session, error) {
		var task *tracker.Task
		var err error
		if taskID != "" {
			task, err = trk.Get(ctx, taskID)
		} else {
			task, err = trk.NextTask(ctx)
		}
		if err != nil {
			return nil, nil, err
		}
		if task == nil {
			return nil, nil, fmt.Errorf("no task available to run")
		}
		if err := trk.Start(ctx, task.ID); err != nil {
			return nil, nil, err
		}

		mission := loop.NewMission(toLoopConfig(loopCfg))
		if err := mission.Start(); err != nil {
			return nil, nil, err
		}
		sess := sessionMgr.Create(mission, task.ID)

		engine := loop.NewEngine(mission, prov, registry, trk, defaultSystemPrompt)

		go drainLoopEvents(context.Background(), engine, mission.ID, publisher, sess)
		go func() {
			res, err := engine.Run(context.Background(), task)
			if err != nil {
				sess.AppendNarrative("run ended with error: " + err.Error())
				return
			}
			sess.RecordResult(res, 0, 0)
		}()

		return mission, sess, nil
	}
}

const defaultSystemPrompt = "You are Tachikoma, an autonomous engineering agent. Use the available tools to make progress on the assigned task, one deliberate step at a time."

// drainLoopEvents forwards every event off the engine's channel to the
// notification pipeline (best-effort; a publish failure is logged, not
// fatal to the mission) and updates the session's running narrative.
func drainLoopEvents(ctx context.Context, engine *loop.Engine, missionID uuid.UUID, publisher *events.EventPublisher, sess *session.Session) {
	for evt := range engine.Events() {
		payload := events.LoopEventPayload{
			Type:        events.EventTypeLoopEvent,
			MissionID:   missionID.String(),
			EventType:   string(evt.Type),
			Iteration:   evt.Iteration,
			Text:        evt.Text,
			ToolCallID:  evt.ToolCallID,
			ToolName:    evt.ToolName,
			ToolArgs:    evt.ToolArgs,
			ToolResult:  evt.ToolResult,
			ToolSuccess: evt.ToolSuccess,
			InputTokens: evt.InputTokens,
			OutTokens:   evt.OutTokens,
			TaskID:      evt.TaskID,
			Timestamp:   evt.Timestamp.Format(time.RFC3339Nano),
		}
		if err := publisher.PublishLoopEvent(ctx, missionID.String(), payload); err != nil {
			slog.Error("failed to publish loop event", "mission_id", missionID, "error", err)
		}
		if evt.Type == loop.EventText && evt.Text != "" {
			sess.AppendNarrative(evt.Text)
		}
	}
}
