package responder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/browser"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/detect"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/monitor"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/reply"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/session"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/template"
)

// Responder owns every subsystem of the auto-responder. The browser
// driver is created once and injected into the components that need it;
// its lifecycle belongs here and nowhere else.
type Responder struct {
	cfg    *Config
	logger *slog.Logger

	driver      browser.Driver
	db          *sql.DB
	sessions    *session.Store
	engine      *detect.Engine
	cooldown    *reply.CooldownTracker
	dispatcher  *reply.Dispatcher
	templates   *template.Registry
	loop        *monitor.Loop
	maintenance *maintenance
}

// Status is the aggregate service state exposed to the API layer.
type Status struct {
	Running  bool                `json:"running"`
	Session  session.Stats       `json:"session"`
	Template template.Status     `json:"template"`
	Cooldown reply.CooldownStats `json:"cooldown"`
}

// New builds a stopped Responder from config. The browser is not launched
// until Start.
func New(cfg *Config, logger *slog.Logger) *Responder {
	if cfg.Session.ProfileDir == "" {
		cfg.Session.ProfileDir = cfg.Browser.ProfileDir
	}
	return &Responder{
		cfg:    cfg,
		logger: logger,
		templates: template.NewRegistry(map[string]string{
			"form_link":   cfg.FormLink,
			"sender_name": cfg.SenderName,
		}),
	}
}

// activateConfigured applies cfg.ActiveTemplate. A selection that is
// unknown or fails its trial render keeps the current active template so
// the service still comes up with a working reply.
func (r *Responder) activateConfigured() {
	if r.cfg.ActiveTemplate == "" {
		return
	}
	if err := r.templates.Activate(r.cfg.ActiveTemplate); err != nil {
		r.logger.Warn("configured template rejected, keeping previous",
			"template", r.cfg.ActiveTemplate,
			"active", r.templates.Status().ActiveTemplateID,
			"error", err)
	}
}

// Start launches the browser, wires the subsystems and starts the monitor
// loop and maintenance jobs.
func (r *Responder) Start(ctx context.Context) error {
	r.activateConfigured()

	driver, err := browser.Launch(ctx, r.cfg.Browser, r.logger)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	r.driver = driver

	db, err := OpenDatabase(r.cfg.DatabasePath)
	if err != nil {
		driver.Close()
		return err
	}
	r.db = db

	r.sessions, err = session.NewStore(r.cfg.Session, r.driver, r.db, r.logger)
	if err != nil {
		r.closeResources()
		return fmt.Errorf("opening session store: %w", err)
	}

	r.engine = detect.NewEngine(r.cfg.Detection, r.driver, r.logger)
	r.cooldown = reply.NewCooldownTracker(r.cfg.Cooldown)
	r.dispatcher = reply.NewDispatcher(r.cfg.Dispatch, r.driver, r.templates, r.logger)
	r.loop = monitor.New(r.cfg.Monitor, r.sessions, r.engine, r.cooldown, r.dispatcher, nil, r.logger)

	if err := r.loop.Start(ctx); err != nil {
		r.closeResources()
		return err
	}

	r.maintenance = newMaintenance(r.sessions, r.logger)
	if err := r.maintenance.start(); err != nil {
		r.logger.Warn("maintenance jobs not scheduled", "error", err)
	}

	r.logger.Info("responder started",
		"interval", r.cfg.Monitor.Interval,
		"template", r.templates.Status().ActiveTemplateID)
	return nil
}

// Stop halts the loop and maintenance jobs and releases the browser and
// database.
func (r *Responder) Stop() {
	if r.maintenance != nil {
		r.maintenance.stop()
	}
	if r.loop != nil {
		r.loop.Stop()
	}
	r.closeResources()
	r.logger.Info("responder stopped")
}

func (r *Responder) closeResources() {
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
	if r.driver != nil {
		r.driver.Close()
		r.driver = nil
	}
}

// Status reports the aggregate service state.
func (r *Responder) Status(ctx context.Context) Status {
	st := Status{
		Template: r.templates.Status(),
	}
	if r.loop != nil {
		st.Running = r.loop.Running()
	}
	if r.sessions != nil {
		st.Session = r.sessions.Stats(ctx)
	}
	if r.cooldown != nil {
		st.Cooldown = r.cooldown.Stats()
	}
	return st
}

// Stats returns the monitor loop's cumulative cycle accounting.
func (r *Responder) Stats() monitor.Stats {
	if r.loop == nil {
		return monitor.Stats{}
	}
	return r.loop.Stats()
}

// ForceCycle queues an immediate monitoring cycle.
func (r *Responder) ForceCycle() bool {
	if r.loop == nil {
		return false
	}
	return r.loop.ForceCycle()
}

// Templates exposes the template registry to the API layer.
func (r *Responder) Templates() *template.Registry {
	return r.templates
}

// QRData returns the current login QR payload, if the login screen is
// showing.
func (r *Responder) QRData(ctx context.Context) (string, error) {
	if r.sessions == nil {
		return "", session.ErrNoDriver
	}
	return r.sessions.QRData(ctx)
}
