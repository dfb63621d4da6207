package responder

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/session"
)

// maintenance schedules the background housekeeping jobs: daily backup
// pruning and an hourly session-age check that flags stale sessions for
// proactive re-validation.
type maintenance struct {
	cron     *cron.Cron
	sessions *session.Store
	logger   *slog.Logger
}

func newMaintenance(sessions *session.Store, logger *slog.Logger) *maintenance {
	return &maintenance{
		cron:     cron.New(),
		sessions: sessions,
		logger:   logger.With("component", "maintenance"),
	}
}

func (m *maintenance) start() error {
	if _, err := m.cron.AddFunc("@daily", m.pruneBackups); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("@hourly", m.checkSessionAge); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("maintenance jobs scheduled")
	return nil
}

func (m *maintenance) stop() {
	ctx := m.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		m.logger.Warn("maintenance jobs did not stop in time")
	}
}

func (m *maintenance) pruneBackups() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := m.sessions.Prune(ctx); err != nil {
		m.logger.Warn("scheduled backup prune failed", "error", err)
	}
}

func (m *maintenance) checkSessionAge() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats := m.sessions.Stats(ctx)
	if stats.AgeFlagged {
		m.logger.Warn("session exceeds max age, consider re-authenticating",
			"session_id", stats.SessionID,
			"created_at", stats.CreatedAt)
	}
}
