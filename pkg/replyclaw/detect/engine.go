package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/browser"
)

// chatListMarkers prove the conversation list is present at all.
var chatListMarkers = []string{
	"div[data-testid='chat-list']",
	"div[id='pane-side']",
	"div[data-testid='conversation-list']",
}

// structuralMarkers denote an unread conversation, ordered newest DOM
// generation first. The first marker that yields matches wins the cycle.
var structuralMarkers = []string{
	"div[data-testid='cell-frame-container'] span[aria-label*='unread']",
	"div[data-testid='cell-frame-container'] span[data-testid='icon-unread-count']",
	"div[data-testid='cell-frame-container'] div[data-testid='unread-count']",
	"[data-testid='cell-frame-container'] span[class*='unread']",
	"div[data-testid='chat'] span[aria-label*='unread']",
}

// unreadIndicatorMarkers are the looser counter badges probed by the
// second strategy.
var unreadIndicatorMarkers = []string{
	"span[aria-label*='unread']",
	"span[data-testid='icon-unread-count']",
	"div[data-testid='unread-count']",
	"div[class*='unread']",
}

// cellMarkers locate a conversation row from one of its inner elements.
var cellMarkers = []string{
	"div[data-testid='cell-frame-container']",
	"div[role='listitem']",
	"div[class*='chat']",
}

// titleMarkers carry the contact or group name inside a row.
var titleMarkers = []string{
	"div[data-testid='cell-frame-title'] span",
	"span[title]",
	"div[title]",
	"span[data-testid*='title']",
	"span[class*='title']",
}

// recencyStamps mark a row whose last message just arrived.
var recencyStamps = []string{"just now", "now", "1 min", "2 min", "3 min"}

// Config tunes the detection engine.
type Config struct {
	// DegradedThreshold is the number of consecutive zero-yield cycles of
	// the structural strategy before the engine marks itself degraded.
	DegradedThreshold int `yaml:"degraded_threshold"`
	// RecencySuppress is how long a contact reported by the recency
	// strategy stays suppressed before it can be reported again.
	RecencySuppress time.Duration `yaml:"recency_suppress"`
}

// DefaultConfig returns the detection defaults.
func DefaultConfig() Config {
	return Config{
		DegradedThreshold: 3,
		RecencySuppress:   5 * time.Minute,
	}
}

// Engine runs the detection strategies over the live page.
type Engine struct {
	cfg    Config
	driver browser.Driver
	logger *slog.Logger

	mu             sync.Mutex
	initialized    bool
	degraded       bool
	zeroStructural int
	lastSeen       map[string]time.Time

	now func() time.Time
}

// NewEngine creates an engine over the given driver. Init must succeed
// before Scan is usable.
func NewEngine(cfg Config, driver browser.Driver, logger *slog.Logger) *Engine {
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = 3
	}
	if cfg.RecencySuppress <= 0 {
		cfg.RecencySuppress = 5 * time.Minute
	}
	return &Engine{
		cfg:      cfg,
		driver:   driver,
		logger:   logger.With("component", "detect"),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Init probes for the conversation list. It resets the degradation state
// on success.
func (e *Engine) Init(ctx context.Context) error {
	if _, err := e.driver.LocateByCandidateSet(ctx, chatListMarkers); err != nil {
		e.mu.Lock()
		e.initialized = false
		e.mu.Unlock()
		return fmt.Errorf("conversation list not found: %w", err)
	}
	e.mu.Lock()
	e.initialized = true
	e.degraded = false
	e.zeroStructural = 0
	e.mu.Unlock()
	return nil
}

// Degraded reports whether the structural strategy has gone quiet for
// DegradedThreshold consecutive cycles.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Scan runs the strategies in priority order and returns deduplicated
// candidates, highest confidence first. The recency strategy runs only
// when the first two yield nothing, or unconditionally once the engine is
// degraded.
func (e *Engine) Scan(ctx context.Context) ([]Candidate, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil, ErrNotInitialized
	}
	degraded := e.degraded
	e.mu.Unlock()

	structural := e.structuralScan(ctx)

	e.mu.Lock()
	if len(structural) == 0 {
		e.zeroStructural++
		if !e.degraded && e.zeroStructural >= e.cfg.DegradedThreshold {
			e.degraded = true
			e.logger.Warn("structural strategy quiet, engine degraded",
				"consecutive_zero_cycles", e.zeroStructural)
		}
	} else {
		e.zeroStructural = 0
	}
	e.mu.Unlock()

	counter := e.unreadCounterScan(ctx)

	var recency []Candidate
	if degraded || len(structural)+len(counter) == 0 {
		recency = e.recencyScan(ctx)
	}

	return consolidate(structural, counter, recency), nil
}

// ScanReduced is the independent fallback path used when the engine
// repeatedly fails to initialize. It skips the structural strategy and
// does not touch the degradation counters.
func (e *Engine) ScanReduced(ctx context.Context) []Candidate {
	counter := e.unreadCounterScan(ctx)
	recency := e.recencyScan(ctx)
	return consolidate(nil, counter, recency)
}

func (e *Engine) structuralScan(ctx context.Context) []Candidate {
	for _, marker := range structuralMarkers {
		elements, err := e.driver.LocateAll(ctx, marker)
		if err != nil {
			e.logger.Debug("structural marker failed", "marker", marker, "error", err)
			continue
		}
		if len(elements) == 0 {
			continue
		}
		var out []Candidate
		for _, el := range elements {
			if c, ok := e.candidateFromIndicator(ctx, el, StrategyStructural, confidenceStructural); ok {
				out = append(out, c)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func (e *Engine) unreadCounterScan(ctx context.Context) []Candidate {
	var out []Candidate
	for _, marker := range unreadIndicatorMarkers {
		elements, err := e.driver.LocateAll(ctx, marker)
		if err != nil {
			e.logger.Debug("unread indicator failed", "marker", marker, "error", err)
			continue
		}
		for _, el := range elements {
			c, ok := e.candidateFromIndicator(ctx, el, StrategyUnreadCounter, confidenceUnreadCounter)
			if !ok {
				continue
			}
			if count := e.unreadCount(ctx, el); count > 0 {
				c.Snippet = fmt.Sprintf("%d unread", count)
			}
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) recencyScan(ctx context.Context) []Candidate {
	var cells []*browser.Element
	for _, marker := range cellMarkers {
		found, err := e.driver.LocateAll(ctx, marker)
		if err == nil && len(found) > 0 {
			cells = found
			break
		}
	}

	now := e.now()
	var out []Candidate
	for _, cell := range cells {
		text, err := e.driver.InnerText(ctx, cell)
		if err != nil {
			continue
		}
		if !hasRecencyStamp(text) {
			continue
		}
		name, ok := e.contactName(ctx, cell)
		if !ok {
			continue
		}
		id := contactID(name)

		e.mu.Lock()
		seen, known := e.lastSeen[id]
		if known && now.Sub(seen) < e.cfg.RecencySuppress {
			e.mu.Unlock()
			continue
		}
		e.lastSeen[id] = now
		e.mu.Unlock()

		out = append(out, Candidate{
			ContactID:   id,
			DisplayName: name,
			Confidence:  confidenceRecency,
			Sources:     []string{StrategyRecency},
			DetectedAt:  now,
			Snippet:     snippet(text),
			Cell:        cell,
		})
	}
	return out
}

// candidateFromIndicator walks from an unread indicator up to its
// conversation row and extracts the contact identity.
func (e *Engine) candidateFromIndicator(ctx context.Context, el *browser.Element, source string, confidence float64) (Candidate, bool) {
	cell, err := e.driver.Ancestor(ctx, el, cellMarkers)
	if err != nil {
		return Candidate{}, false
	}
	name, ok := e.contactName(ctx, cell)
	if !ok {
		return Candidate{}, false
	}
	text, _ := e.driver.InnerText(ctx, cell)
	return Candidate{
		ContactID:   contactID(name),
		DisplayName: name,
		Confidence:  confidence,
		Sources:     []string{source},
		DetectedAt:  e.now(),
		Snippet:     snippet(text),
		Cell:        cell,
	}, true
}

func (e *Engine) contactName(ctx context.Context, cell *browser.Element) (string, bool) {
	titleEl, err := e.driver.Descendant(ctx, cell, titleMarkers)
	if err != nil {
		return "", false
	}
	name := titleEl.Title
	if name == "" {
		name = titleEl.Text
	}
	name = strings.TrimSpace(name)
	if !validName(name) {
		return "", false
	}
	return name, true
}

// unreadCount parses the badge count from the indicator's label or text.
func (e *Engine) unreadCount(ctx context.Context, el *browser.Element) int {
	if n := digitsIn(el.Label); n > 0 {
		return n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(el.Text)); err == nil {
		return n
	}
	return 1
}

func digitsIn(s string) int {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, _ := strconv.Atoi(s[start:i])
			return n
		}
	}
	if start >= 0 {
		n, _ := strconv.Atoi(s[start:])
		return n
	}
	return 0
}

func hasRecencyStamp(text string) bool {
	lower := strings.ToLower(text)
	for _, stamp := range recencyStamps {
		if strings.Contains(lower, stamp) {
			return true
		}
	}
	return false
}

// consolidate merges per-strategy results: one candidate per contact,
// maximum confidence, union of contributing strategies, ordered by
// confidence then name.
func consolidate(groups ...[]Candidate) []Candidate {
	merged := make(map[string]*Candidate)
	var order []string
	for _, group := range groups {
		for _, c := range group {
			existing, ok := merged[c.ContactID]
			if !ok {
				copied := c
				merged[c.ContactID] = &copied
				order = append(order, c.ContactID)
				continue
			}
			if c.Confidence > existing.Confidence {
				existing.Confidence = c.Confidence
				existing.Snippet = c.Snippet
			}
			if existing.Cell == nil {
				existing.Cell = c.Cell
			}
			for _, src := range c.Sources {
				if !containsString(existing.Sources, src) {
					existing.Sources = append(existing.Sources, src)
				}
			}
		}
	}

	out := make([]Candidate, 0, len(merged))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
