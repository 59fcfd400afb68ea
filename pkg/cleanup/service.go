// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/tachikoma-dev/tachikoma/pkg/config"
	"github.com/tachikoma-dev/tachikoma/pkg/session"
)

// Service periodically prunes terminal session records once they are old
// enough that nothing will query them through the live API anymore.
// Idempotent and safe to run from multiple processes, since Prune only
// ever deletes records already past their retention window.
type Service struct {
	cfg        config.RetentionConfig
	sessionMgr *session.Manager

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg config.RetentionConfig, sessionMgr *session.Manager) *Service {
	return &Service{cfg: cfg, sessionMgr: sessionMgr}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"session_retention", s.cfg.SessionRetentionDuration(),
		"interval", s.cfg.CleanupIntervalDuration())
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce()

	ticker := time.NewTicker(s.cfg.CleanupIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Service) runOnce() {
	count := s.sessionMgr.Prune(s.cfg.SessionRetentionDuration())
	if count > 0 {
		slog.Info("retention: pruned terminal sessions", "count", count)
	}
}
