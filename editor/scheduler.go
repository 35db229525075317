package editor

import (
	"context"
	"fmt"
	"sync"

	"github.com/migadu/sieveedit/logger"
	"github.com/robfig/cron/v3"
)

// RefreshScheduler reloads a workspace's script listing on a cron schedule,
// picking up scripts changed by other clients.
type RefreshScheduler struct {
	ws       *Workspace
	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewRefreshScheduler validates schedule, a standard cron expression or a
// descriptor such as "@every 5m".
func NewRefreshScheduler(ws *Workspace, schedule string) (*RefreshScheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return &RefreshScheduler{ws: ws, schedule: schedule, cron: cron.New()}, nil
}

// Start schedules refreshes until ctx is cancelled or Stop is called.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("refresh scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.refresh(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}
	s.cron.Start()
	s.running = true
	logger.Info("Workspace: refresh scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *RefreshScheduler) refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.ws.Refresh(ctx); err != nil {
		logger.Warn("Workspace: scheduled refresh failed", "error", err)
	}
}

// Stop waits for a running refresh to finish. It is safe to call more than
// once.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	logger.Info("Workspace: refresh scheduler stopped")
}
