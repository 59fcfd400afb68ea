package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachikoma-dev/tachikoma/pkg/config"
	"github.com/tachikoma-dev/tachikoma/pkg/loop"
	"github.com/tachikoma-dev/tachikoma/pkg/session"
)

func newTerminalSession(t *testing.T, mgr *session.Manager) {
	t.Helper()
	mission := loop.NewMission(loop.DefaultConfig())
	require.NoError(t, mission.Start())
	s := mgr.Create(mission, "task-1")
	s.RecordResult(loop.Result{StopReason: loop.StopCompleted}, 0, 0)
}

func TestServicePrunesOldTerminalSessions(t *testing.T) {
	mgr := session.NewManager()
	newTerminalSession(t, mgr)
	time.Sleep(2 * time.Millisecond)

	svc := NewService(config.RetentionConfig{SessionRetention: "1ms", CleanupInterval: "1h"}, mgr)
	svc.runOnce()

	assert.Empty(t, mgr.List())
}

func TestServiceKeepsRecentSessions(t *testing.T) {
	mgr := session.NewManager()
	newTerminalSession(t, mgr)

	svc := NewService(config.RetentionConfig{SessionRetention: "1h", CleanupInterval: "1h"}, mgr)
	svc.runOnce()

	assert.Len(t, mgr.List(), 1)
}

func TestServiceStartStop(t *testing.T) {
	mgr := session.NewManager()
	svc := NewService(config.RetentionConfig{SessionRetention: "1h", CleanupInterval: "10ms"}, mgr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	svc.Stop()
}
