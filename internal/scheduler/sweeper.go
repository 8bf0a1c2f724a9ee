package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/internal/streaming"
	"github.com/reivaj/flowstate/pkg/schema"
)

// TransitionFunc applies a validated session status change. Satisfied by the
// engine's session FSM (avoids an import cycle).
type TransitionFunc func(ctx context.Context, sessionID string, to schema.SessionStatus) error

// Config for the stale-session sweeper.
type Config struct {
	// IdleTTL is how long a paused session may sit without activity before
	// it is expired. Defaults to 24h.
	IdleTTL time.Duration
	// CronSpec schedules the sweep. Defaults to every 15 minutes.
	CronSpec string
}

func (c Config) withDefaults() Config {
	if c.IdleTTL <= 0 {
		c.IdleTTL = 24 * time.Hour
	}
	if c.CronSpec == "" {
		c.CronSpec = "*/15 * * * *"
	}
	return c
}

// Sweeper expires sessions that have been paused longer than the idle TTL:
// the resume point and subworkflow stack are cleared, the live context is
// wiped, and the session is marked expired. A later message from the same
// conversation reactivates it with a fresh run.
type Sweeper struct {
	sessions   store.SessionStore
	contexts   store.ContextStore
	transition TransitionFunc
	hub        streaming.EventHub
	cfg        Config
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a Sweeper. hub may be nil.
func NewSweeper(sessions store.SessionStore, contexts store.ContextStore,
	transition TransitionFunc, hub streaming.EventHub, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sessions:   sessions,
		contexts:   contexts,
		transition: transition,
		hub:        hub,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Start schedules the sweep on the configured cron spec.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	_, err := c.AddFunc(s.cfg.CronSpec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("session sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep cron spec %q: %w", s.cfg.CronSpec, err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("session sweeper started",
		"cron", s.cfg.CronSpec, "idle_ttl", s.cfg.IdleTTL.String())
	return nil
}

// Stop halts the cron schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Sweep expires every session paused longer than the idle TTL and returns
// how many were expired. Per-session failures are logged and skipped so one
// bad row cannot stall the rest.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.IdleTTL)
	stale, err := s.sessions.ListPausedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sess := range stale {
		if err := s.expire(ctx, sess); err != nil {
			s.logger.Error("failed to expire stale session",
				"session_id", sess.ID, "conversation_id", sess.ConversationID, "error", err)
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("expired stale sessions", "count", expired, "cutoff", cutoff)
	}
	return expired, nil
}

func (s *Sweeper) expire(ctx context.Context, sess *store.Session) error {
	if err := s.sessions.SetResumePoint(ctx, sess.ID, "", "", ""); err != nil {
		return err
	}
	if err := s.sessions.SetSubworkflowStack(ctx, sess.ID, nil); err != nil {
		return err
	}
	if err := s.contexts.DeleteAll(ctx, sess.AgentID, sess.ID); err != nil {
		return err
	}
	if err := s.transition(ctx, sess.ID, schema.SessionStatusExpired); err != nil {
		return err
	}

	if s.hub != nil {
		_ = s.hub.Publish(ctx, streaming.StreamEvent{
			ConversationID: sess.ConversationID,
			WorkflowID:     sess.WorkflowID,
			EventType:      schema.EventSessionExpired,
			Payload:        map[string]any{"session_id": sess.ID, "idle_ttl": s.cfg.IdleTTL.String()},
		})
	}
	return nil
}
