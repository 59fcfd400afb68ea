package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tachikoma-dev/tachikoma/pkg/audit"
	"github.com/tachikoma-dev/tachikoma/pkg/events"
	"github.com/tachikoma-dev/tachikoma/pkg/loop"
	"github.com/tachikoma-dev/tachikoma/pkg/services"
	"github.com/tachikoma-dev/tachikoma/pkg/session"
	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// startMissionHandler handles POST /missions. It delegates to the
// MissionStarter supplied at construction, which owns the provider,
// primitive registry, and tracker the loop engine actually runs against.
func (s *Server) startMissionHandler(c *gin.Context) {
	var req StartMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, terrors.New(terrors.KindValidation, err.Error()))
		return
	}
	if s.starter == nil {
		writeError(c, terrors.New(terrors.KindInternal, "no mission starter configured"))
		return
	}

	mission, sess, err := s.starter(c.Request.Context(), req.TaskID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.RegisterMission(mission)
	s.recordMissionAudit(extractAuthor(c), "mission.start", mission.ID, req.TaskID, audit.Success())

	c.JSON(http.StatusAccepted, newMissionResponse(mission, sess.Snapshot()))
}

// getMissionHandler handles GET /missions/:id.
func (s *Server) getMissionHandler(c *gin.Context) {
	mission, sess, err := s.resolveMission(c)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := newMissionResponse(mission, sess.Snapshot())
	if mission.State().IsTerminal() {
		snap := sess.Snapshot()
		resp.Result = &LoopResult{
			InputTokens:  snap.InputTokens,
			OutputTokens: snap.OutputTokens,
			StopReason:   snap.StopReason,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// pauseMissionHandler handles POST /missions/:id/pause.
func (s *Server) pauseMissionHandler(c *gin.Context) {
	s.transitionMission(c, "mission.pause", func(m *loop.Mission) error {
		if m.State() != loop.MissionRunning {
			return terrors.Wrap(terrors.KindStateConflict, "mission is not running", services.ErrNotCancellable)
		}
		m.RequestPause()
		return nil
	})
}

// resumeMissionHandler handles POST /missions/:id/resume.
func (s *Server) resumeMissionHandler(c *gin.Context) {
	s.transitionMission(c, "mission.resume", func(m *loop.Mission) error {
		if m.State() != loop.MissionPaused {
			return terrors.Wrap(terrors.KindStateConflict, "mission is not paused", services.ErrNotCancellable)
		}
		m.Resume()
		return nil
	})
}

// stopMissionHandler handles POST /missions/:id/stop.
func (s *Server) stopMissionHandler(c *gin.Context) {
	s.transitionMission(c, "mission.stop", func(m *loop.Mission) error {
		if m.State().IsTerminal() {
			return terrors.Wrap(terrors.KindStateConflict, "mission already finished", services.ErrNotCancellable)
		}
		m.RequestStop()
		return nil
	})
}

// transitionMission resolves the target mission, applies fn, and records
// the attempt (success or denial) to the audit trail under the requesting
// identity. action is an audit.Event.Action value, e.g. "mission.pause".
func (s *Server) transitionMission(c *gin.Context, action string, fn func(*loop.Mission) error) {
	mission, sess, err := s.resolveMission(c)
	if err != nil {
		writeError(c, err)
		return
	}
	author := extractAuthor(c)
	if err := fn(mission); err != nil {
		s.recordMissionAudit(author, action, mission.ID, sess.Snapshot().TaskID, audit.Denied(err.Error()))
		writeError(c, err)
		return
	}
	sess.SyncState(mission)
	s.recordMissionAudit(author, action, mission.ID, sess.Snapshot().TaskID, audit.Success())
	c.JSON(http.StatusOK, newMissionResponse(mission, sess.Snapshot()))
}

// recordMissionAudit persists a mission-control API action to the audit
// chain. Best-effort: the store batches and retries internally, and an
// operator request should not fail just because the audit sink is briefly
// unavailable. Skipped entirely when no store is configured (tests,
// degraded-mode startup).
func (s *Server) recordMissionAudit(author, action string, missionID uuid.UUID, taskID string, outcome audit.Outcome) {
	if s.auditStore == nil {
		return
	}
	event := audit.NewBuilder(audit.CategorySystem, action).
		Actor2(audit.UserActor(author, missionID.String())).
		Target2(audit.Target{ResourceType: "mission", ResourceID: missionID.String(), ResourceName: taskID}).
		Outcome2(outcome).
		Build()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.auditStore.PersistBatch(ctx, []audit.Event{event}); err != nil {
		slog.Error("failed to persist mission audit event", "action", action, "mission_id", missionID, "error", err)
	}
}

func (s *Server) resolveMission(c *gin.Context) (*loop.Mission, *session.Session, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, nil, terrors.New(terrors.KindValidation, "invalid mission id: "+err.Error())
	}
	mission, ok := s.lookupMission(id)
	if !ok {
		return nil, nil, terrors.New(terrors.KindNotFound, "mission not found: "+id.String())
	}
	sess, err := s.sessionMgr.ByMission(id)
	if err != nil {
		return nil, nil, err
	}
	return mission, sess, nil
}

// streamMissionEventsHandler handles GET /missions/:id/events, serving
// Server-Sent Events fed by pkg/events' connection manager. The client may
// set Last-Event-ID (or ?last_event_id=) to resume after a reconnect;
// missed events are replayed from the catchup store before live delivery
// begins.
func (s *Server) streamMissionEventsHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, terrors.New(terrors.KindValidation, "invalid mission id: "+err.Error()))
		return
	}

	lastEventID := 0
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := c.Query("last_event_id"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}

	channel := events.MissionChannel(id.String())
	conn, err := s.connMgr.Subscribe(c.Request.Context(), channel, lastEventID)
	if err != nil {
		writeError(c, terrors.Wrap(terrors.KindInternal, "subscribe failed", err))
		return
	}
	defer s.connMgr.Unsubscribe(conn)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case payload, ok := <-conn.Send:
			if !ok {
				return false
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
