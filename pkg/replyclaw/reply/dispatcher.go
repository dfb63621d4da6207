package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/browser"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/detect"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/template"
)

// composeMarkers locate the message input surface, newest DOM generation
// first.
var composeMarkers = []string{
	"div[data-testid='conversation-compose-box-input']",
	"div[contenteditable='true'][data-tab='10']",
	"div[contenteditable='true'][role='textbox']",
	"div[data-testid='message-composer']",
	"div[contenteditable='true']",
}

// sendMarkers locate the send action. The interface localizes the
// accessible label, so several language variants are carried.
var sendMarkers = []string{
	"button[data-testid='compose-btn-send']",
	"span[data-testid='send']",
	"button[aria-label*='Send']",
	"button[title*='Send']",
	"button[data-tab='11']",
	"span[data-icon='send']",
	"div[data-testid='conversation-compose-box-send'] button",
	"div[role='button'][data-tab='11']",
	"button[aria-label*='Enviar']",
	"button[aria-label*='Envoyer']",
}

// Dispatch failure reasons.
var (
	// ErrComposeNotFound is transient: the compose surface was not visible
	// and no partial state was created. Safe to retry next cycle.
	ErrComposeNotFound = errors.New("compose surface not found")

	// ErrSendTargetNotFound means no send action resolved even after the
	// synthetic commit-key fallback.
	ErrSendTargetNotFound = errors.New("send target not found")

	// ErrSendUnconfirmed means the compose surface stayed non-empty past
	// the confirmation timeout. The message may still have gone out, so
	// the dispatch is not retried within the same cycle.
	ErrSendUnconfirmed = errors.New("send not confirmed within timeout")
)

// Outcome classifies a dispatch attempt.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// Result describes one dispatch attempt.
type Result struct {
	Outcome    Outcome
	ContactID  string
	TemplateID string
	// RenderedChars is the rune length of the rendered message.
	RenderedChars int
	// Reason is nil for OutcomeSent, otherwise one of the dispatch
	// sentinels or template.ErrTemplateInvalid.
	Reason error
}

// DispatcherConfig tunes delivery confirmation.
type DispatcherConfig struct {
	// ConfirmTimeout bounds the wait for the compose surface to empty.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	// ConfirmPoll is the interval between confirmation probes.
	ConfirmPoll time.Duration `yaml:"confirm_poll"`
}

// DefaultDispatcherConfig returns the dispatch defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		ConfirmTimeout: 10 * time.Second,
		ConfirmPoll:    200 * time.Millisecond,
	}
}

// Dispatcher delivers the active template to a detected conversation.
type Dispatcher struct {
	cfg       DispatcherConfig
	driver    browser.Driver
	templates *template.Registry
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher over the given driver and template
// registry.
func NewDispatcher(cfg DispatcherConfig, driver browser.Driver, templates *template.Registry, logger *slog.Logger) *Dispatcher {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = 200 * time.Millisecond
	}
	return &Dispatcher{
		cfg:       cfg,
		driver:    driver,
		templates: templates,
		logger:    logger.With("component", "dispatch"),
	}
}

// Dispatch renders the active template for the candidate and sends it.
// The rendered text is injected into the compose surface as one
// structured unit; the send action is located via candidate markers with
// a synthetic commit key as last resort; delivery is confirmed by the
// compose surface emptying within the configured timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, c detect.Candidate) Result {
	tmpl := d.templates.Active()
	if tmpl == nil {
		return d.failed(c, "", 0, fmt.Errorf("%w: no active template", template.ErrTemplateInvalid))
	}

	rendered, err := tmpl.Render(d.renderVars(c))
	if err != nil {
		return d.failed(c, tmpl.ID, 0, err)
	}
	chars := len([]rune(rendered))

	// Open the conversation before touching the composer.
	if c.Cell != nil {
		if err := d.driver.Click(ctx, c.Cell); err != nil {
			return d.failed(c, tmpl.ID, chars, fmt.Errorf("%w: open conversation: %v", ErrComposeNotFound, err))
		}
	}

	composer, err := d.driver.LocateByCandidateSet(ctx, composeMarkers)
	if err != nil {
		return d.failed(c, tmpl.ID, chars, fmt.Errorf("%w: %v", ErrComposeNotFound, err))
	}

	if err := d.driver.InjectText(ctx, composer, rendered); err != nil {
		return d.failed(c, tmpl.ID, chars, fmt.Errorf("%w: inject: %v", ErrComposeNotFound, err))
	}

	if err := d.triggerSend(ctx, composer); err != nil {
		return d.failed(c, tmpl.ID, chars, err)
	}

	if err := d.confirmSent(ctx, composer); err != nil {
		return d.failed(c, tmpl.ID, chars, err)
	}

	d.logger.Info("reply sent",
		"contact_id", c.ContactID,
		"template", tmpl.ID,
		"chars", chars)
	return Result{
		Outcome:       OutcomeSent,
		ContactID:     c.ContactID,
		TemplateID:    tmpl.ID,
		RenderedChars: chars,
	}
}

// renderVars extends the configured variable set with per-contact
// context. sender_name stays the configured signature; the detected
// contact is exposed separately as contact_name for templates that
// personalize the greeting.
func (d *Dispatcher) renderVars(c detect.Candidate) map[string]string {
	vars := make(map[string]string)
	for k, v := range d.templates.Variables() {
		vars[k] = v
	}
	vars["contact_name"] = c.DisplayName
	return vars
}

func (d *Dispatcher) triggerSend(ctx context.Context, composer *browser.Element) error {
	if button, err := d.driver.LocateByCandidateSet(ctx, sendMarkers); err == nil {
		if err := d.driver.Click(ctx, button); err == nil {
			return nil
		}
		d.logger.Debug("send button click failed, trying commit key")
	}
	if err := d.driver.SendCommitKey(ctx, composer); err != nil {
		return fmt.Errorf("%w: %v", ErrSendTargetNotFound, err)
	}
	return nil
}

// confirmSent polls the compose surface until it empties or the timeout
// elapses.
func (d *Dispatcher) confirmSent(ctx context.Context, composer *browser.Element) error {
	deadline := time.Now().Add(d.cfg.ConfirmTimeout)
	ticker := time.NewTicker(d.cfg.ConfirmPoll)
	defer ticker.Stop()

	for {
		text, err := d.driver.InnerText(ctx, composer)
		if err == nil && strings.TrimSpace(text) == "" {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrSendUnconfirmed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) failed(c detect.Candidate, templateID string, chars int, reason error) Result {
	d.logger.Warn("dispatch failed",
		"contact_id", c.ContactID,
		"template", templateID,
		"error", reason)
	return Result{
		Outcome:       OutcomeFailed,
		ContactID:     c.ContactID,
		TemplateID:    templateID,
		RenderedChars: chars,
		Reason:        reason,
	}
}
