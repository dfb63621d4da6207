// Package monitor runs the periodic detect-and-reply cycle. Each cycle
// re-establishes the session if needed, scans for new conversations with
// tiered fallbacks, and dispatches cooldown-gated replies. A single
// cycle's failure never stops the loop.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/detect"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/reply"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/session"
)

// Config tunes the monitor loop.
type Config struct {
	// Interval is the cycle cadence.
	Interval time.Duration `yaml:"interval"`
	// MaxPerCycle caps how many replies a single cycle may dispatch.
	MaxPerCycle int `yaml:"max_per_cycle"`
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		MaxPerCycle: 3,
	}
}

// Stats is the loop's cumulative cycle accounting.
type Stats struct {
	CyclesRun            int            `json:"cycles_run"`
	DetectionsByStrategy map[string]int `json:"detections_by_strategy"`
	CandidatesSeen       int            `json:"candidates_seen"`
	SendsSucceeded       int            `json:"sends_succeeded"`
	SendsFailed          int            `json:"sends_failed"`
	CooldownSuppressed   int            `json:"cooldown_suppressed"`
	ReducedScans         int            `json:"reduced_scans"`
	LastCycleAt          time.Time      `json:"last_cycle_at,omitempty"`
	EngineDegraded       bool           `json:"engine_degraded"`
	SessionState         session.Status `json:"session_state"`
	// NeedsReauth is set once restore has exhausted every backup and an
	// operator must log in again.
	NeedsReauth bool `json:"needs_reauth"`
}

// Loop orchestrates session continuity, detection and dispatch.
type Loop struct {
	cfg        Config
	sessions   *session.Store
	engine     *detect.Engine
	cooldown   *reply.CooldownTracker
	dispatcher *reply.Dispatcher
	logger     *slog.Logger
	ticks      TickSource

	running atomic.Bool
	force   chan struct{}
	stop    chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	stats     Stats
	lastState session.Status
}

// New creates a loop over the given collaborators. A nil ticks falls back
// to an interval ticker at cfg.Interval.
func New(cfg Config, sessions *session.Store, engine *detect.Engine, cooldown *reply.CooldownTracker, dispatcher *reply.Dispatcher, ticks TickSource, logger *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxPerCycle <= 0 {
		cfg.MaxPerCycle = 3
	}
	if ticks == nil {
		ticks = NewIntervalTicker(cfg.Interval)
	}
	return &Loop{
		cfg:        cfg,
		sessions:   sessions,
		engine:     engine,
		cooldown:   cooldown,
		dispatcher: dispatcher,
		logger:     logger.With("component", "monitor"),
		ticks:      ticks,
		force:      make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		stats: Stats{
			DetectionsByStrategy: make(map[string]int),
		},
		lastState: session.StatusUnauthenticated,
	}
}

// Start launches the loop goroutine. It is an error to start twice.
func (l *Loop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("monitor loop already running")
	}
	go l.run(ctx)
	return nil
}

// Stop halts the loop and waits for the current cycle to finish.
func (l *Loop) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	close(l.stop)
	<-l.done
	l.ticks.Stop()
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// ForceCycle queues an immediate cycle. Returns false if one is already
// queued.
func (l *Loop) ForceCycle() bool {
	select {
	case l.force <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stats returns a copy of the cumulative cycle accounting.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.stats
	out.DetectionsByStrategy = make(map[string]int, len(l.stats.DetectionsByStrategy))
	for k, v := range l.stats.DetectionsByStrategy {
		out.DetectionsByStrategy[k] = v
	}
	out.EngineDegraded = l.engine.Degraded()
	out.SessionState = l.sessions.Session().Status
	out.NeedsReauth = out.SessionState == session.StatusUnauthenticated && out.CyclesRun > 0
	return out
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	l.logger.Info("monitor loop started", "interval", l.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("monitor loop stopped", "reason", "context")
			return
		case <-l.stop:
			l.logger.Info("monitor loop stopped")
			return
		case <-l.ticks.C():
			l.runCycle(ctx)
		case <-l.force:
			l.logger.Info("running forced cycle")
			l.runCycle(ctx)
		}
	}
}

// runCycle executes one full detect-and-reply cycle. Session trouble
// degrades the cycle to best effort instead of skipping it: detection
// still runs against a stale session (it simply finds nothing or fails
// per contact). Only an Unauthenticated session, reached after every
// backup is exhausted, halts dispatch until an operator logs back in.
func (l *Loop) runCycle(ctx context.Context) {
	state := l.ensureSession(ctx)
	if state != session.StatusValid {
		l.logger.Warn("cycle running without valid session", "state", string(state))
	}

	candidates := l.detectCandidates(ctx)
	if state == session.StatusUnauthenticated {
		if len(candidates) > 0 {
			l.logger.Warn("dispatch halted pending re-authentication",
				"candidates", len(candidates))
		}
	} else {
		l.dispatchReplies(ctx, candidates)
	}

	l.mu.Lock()
	l.stats.CyclesRun++
	l.stats.LastCycleAt = time.Now()
	l.mu.Unlock()
}

// ensureSession validates the session, restores from backup on failure,
// and snapshots the profile once when the session becomes valid through a
// fresh login. A restore already came from a backup and is not
// re-archived.
func (l *Loop) ensureSession(ctx context.Context) session.Status {
	state, err := l.sessions.Validate(ctx)
	if err != nil {
		l.logger.Warn("session validation failed", "error", err)
	}

	viaRestore := false
	if state != session.StatusValid {
		l.logger.Warn("session not valid, attempting restore", "state", string(state))
		restored, rerr := l.sessions.Restore(ctx)
		if rerr != nil {
			if errors.Is(rerr, session.ErrSessionRestoreFailed) {
				l.logger.Error("all backups exhausted, re-authentication required")
			} else {
				l.logger.Warn("session restore failed", "error", rerr)
			}
		}
		state = restored
		viaRestore = state == session.StatusValid
	}

	l.mu.Lock()
	newlyValid := state == session.StatusValid && l.lastState != session.StatusValid && !viaRestore
	l.lastState = state
	l.mu.Unlock()

	if newlyValid {
		if _, err := l.sessions.Backup(ctx); err != nil {
			l.logger.Warn("session backup failed", "error", err)
		}
	}
	return state
}

// detectCandidates runs the tiered detection paths: the full engine, one
// re-initialization on failure, and the reduced independent scan when the
// engine cannot come up at all.
func (l *Loop) detectCandidates(ctx context.Context) []detect.Candidate {
	candidates, err := l.engine.Scan(ctx)
	if err == nil {
		l.recordDetections(candidates)
		return candidates
	}
	l.logger.Warn("detection engine scan failed", "error", err)

	if ierr := l.engine.Init(ctx); ierr == nil {
		if candidates, err = l.engine.Scan(ctx); err == nil {
			l.recordDetections(candidates)
			return candidates
		}
		l.logger.Warn("scan failed after re-initialization", "error", err)
	} else {
		l.logger.Warn("engine re-initialization failed", "error", ierr)
	}

	l.logger.Warn("falling back to reduced detection")
	candidates = l.engine.ScanReduced(ctx)
	l.recordDetections(candidates)
	l.mu.Lock()
	l.stats.ReducedScans++
	l.mu.Unlock()
	return candidates
}

func (l *Loop) recordDetections(candidates []detect.Candidate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.CandidatesSeen += len(candidates)
	for _, c := range candidates {
		for _, src := range c.Sources {
			l.stats.DetectionsByStrategy[src]++
		}
	}
}

// dispatchReplies sends the active template to each candidate that clears
// the cooldown gate, up to MaxPerCycle. A reply is recorded for every
// confirmed send and for unconfirmed ones, since an unconfirmed message
// may still have gone out and must not be repeated.
func (l *Loop) dispatchReplies(ctx context.Context, candidates []detect.Candidate) {
	dispatched := 0
	for _, c := range candidates {
		if dispatched >= l.cfg.MaxPerCycle {
			l.logger.Info("per-cycle reply cap reached", "cap", l.cfg.MaxPerCycle)
			return
		}
		if !l.cooldown.ShouldReply(c.ContactID) {
			l.logger.Debug("cooldown active, skipping", "contact_id", c.ContactID)
			l.mu.Lock()
			l.stats.CooldownSuppressed++
			l.mu.Unlock()
			continue
		}

		res := l.dispatcher.Dispatch(ctx, c)
		dispatched++

		l.mu.Lock()
		if res.Outcome == reply.OutcomeSent {
			l.stats.SendsSucceeded++
		} else {
			l.stats.SendsFailed++
		}
		l.mu.Unlock()

		if res.Outcome == reply.OutcomeSent || errors.Is(res.Reason, reply.ErrSendUnconfirmed) {
			l.cooldown.RecordReply(c.ContactID)
		}
	}
}
