package detect

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/browser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// chatCell builds a conversation row with a title and optional children.
func chatCell(name, text string, children ...*browser.Node) *browser.Node {
	kids := append([]*browser.Node{
		{Markers: []string{"span[title]"}, Title: name},
	}, children...)
	return &browser.Node{
		Markers:  []string{"div[data-testid='cell-frame-container']"},
		Text:     text,
		Children: kids,
	}
}

// structuralBadge matches both the structural and the loose counter markers.
func structuralBadge(label string) *browser.Node {
	return &browser.Node{
		Markers: []string{
			"div[data-testid='cell-frame-container'] span[aria-label*='unread']",
			"span[aria-label*='unread']",
		},
		Label: label,
	}
}

// counterBadge matches only the loose counter marker.
func counterBadge(label string) *browser.Node {
	return &browser.Node{
		Markers: []string{"span[aria-label*='unread']"},
		Label:   label,
	}
}

func pageWith(cells ...*browser.Node) *browser.Node {
	return &browser.Node{
		Markers: []string{"html"},
		Children: []*browser.Node{
			{
				Markers:  []string{"div[data-testid='chat-list']"},
				Children: cells,
			},
		},
	}
}

func newTestEngine(t *testing.T, d browser.Driver) *Engine {
	t.Helper()
	e := NewEngine(DefaultConfig(), d, testLogger())
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return e
}

func TestScanRequiresInit(t *testing.T) {
	d := browser.NewScripted(pageWith(), "https://web.whatsapp.com/")
	e := NewEngine(DefaultConfig(), d, testLogger())

	if _, err := e.Scan(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Scan error = %v, want ErrNotInitialized", err)
	}
}

func TestScanConsolidatesAcrossStrategies(t *testing.T) {
	// Alice's badge matches the structural and the counter markers; the
	// engine must report her once, at the higher confidence, with both
	// strategies credited.
	page := pageWith(chatCell("Alice Example", "", structuralBadge("2 unread messages")))
	d := browser.NewScripted(page, "https://web.whatsapp.com/")
	e := newTestEngine(t, d)

	candidates, err := e.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}
	c := candidates[0]
	if c.DisplayName != "Alice Example" {
		t.Errorf("DisplayName = %q", c.DisplayName)
	}
	if c.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", c.Confidence)
	}
	wantSources := map[string]bool{StrategyStructural: true, StrategyUnreadCounter: true}
	if len(c.Sources) != 2 || !wantSources[c.Sources[0]] || !wantSources[c.Sources[1]] {
		t.Errorf("Sources = %v, want structural and unread-counter", c.Sources)
	}
	if c.ContactID == "" || c.Cell == nil {
		t.Errorf("incomplete candidate: %+v", c)
	}
}

func TestScanStableContactID(t *testing.T) {
	page := pageWith(chatCell("Alice Example", "", structuralBadge("1 unread message")))
	d := browser.NewScripted(page, "https://web.whatsapp.com/")
	e := newTestEngine(t, d)

	first, err := e.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first[0].ContactID != second[0].ContactID {
		t.Fatalf("contact id changed between scans: %q vs %q", first[0].ContactID, second[0].ContactID)
	}
}

func TestScanFiltersSystemRows(t *testing.T) {
	page := pageWith(
		chatCell("WhatsApp", "", structuralBadge("1 unread message")),
		chatCell("Broadcast list", "", structuralBadge("1 unread message")),
		chatCell("X", "", structuralBadge("1 unread message")),
		chatCell("Bob Builder", "", structuralBadge("1 unread message")),
	)
	d := browser.NewScripted(page, "https://web.whatsapp.com/")
	e := newTestEngine(t, d)

	candidates, err := e.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(candidates) != 1 || candidates[0].DisplayName != "Bob Builder" {
		t.Fatalf("candidates = %+v, want only Bob Builder", candidates)
	}
}

func TestDegradedEnablesRecency(t *testing.T) {
	// Bob carries only a loose counter badge, so the structural strategy
	// stays at zero yield while the counter strategy keeps producing.
	// Carol only shows a fresh timestamp, which the recency strategy
	// alone can see.
	page := pageWith(
		chatCell("Bob Builder", "", counterBadge("1 unread message")),
		chatCell("Carol Jones", "sounds good · just now"),
	)
	d := browser.NewScripted(page, "https://web.whatsapp.com/")
	e := newTestEngine(t, d)
	ctx := context.Background()

	names := func(cs []Candidate) map[string]float64 {
		out := make(map[string]float64, len(cs))
		for _, c := range cs {
			out[c.DisplayName] = c.Confidence
		}
		return out
	}

	for cycle := 1; cycle <= 3; cycle++ {
		got, err := e.Scan(ctx)
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		byName := names(got)
		if _, ok := byName["Carol Jones"]; ok {
			t.Fatalf("cycle %d: recency strategy ran before degradation", cycle)
		}
		if byName["Bob Builder"] != 0.7 {
			t.Fatalf("cycle %d: candidates = %v", cycle, byName)
		}
	}

	if !e.Degraded() {
		t.Fatal("engine not degraded after 3 quiet structural cycles")
	}

	got, err := e.Scan(ctx)
	if err != nil {
		t.Fatalf("cycle 4: %v", err)
	}
	byName := names(got)
	if byName["Carol Jones"] != 0.6 {
		t.Fatalf("cycle 4: recency candidate missing: %v", byName)
	}
	if byName["Bob Builder"] != 0.7 {
		t.Fatalf("cycle 4: counter candidate missing: %v", byName)
	}
}

func TestInitResetsDegradation(t *testing.T) {
	page := pageWith(chatCell("Carol Jones", "ok · just now"))
	d := browser.NewScripted(page, "https://web.whatsapp.com/")
	e := newTestEngine(t, d)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.Scan(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if !e.Degraded() {
		t.Fatal("expected degraded engine")
	}
	if err := e.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if e.Degraded() {
		t.Fatal("Init did not clear degraded state")
	}
}

func TestRecencySuppression(t *testing.T) {
	page := pageWith(chatCell("Carol Jones", "ok · just now"))
	d := browser.NewScripted(page, "https://web.whatsapp.com/")
	e := newTestEngine(t, d)
	ctx := context.Background()

	base := time.Now()
	e.now = func() time.Time { return base }

	got, err := e.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("first scan candidates = %d, want 1", len(got))
	}

	// Within the suppression window the same stamp is not re-reported.
	e.now = func() time.Time { return base.Add(time.Minute) }
	got, err = e.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("suppressed scan candidates = %d, want 0", len(got))
	}

	e.now = func() time.Time { return base.Add(10 * time.Minute) }
	got, err = e.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("post-window scan candidates = %d, want 1", len(got))
	}
}

func TestScanReducedSkipsStructural(t *testing.T) {
	page := pageWith(
		chatCell("Bob Builder", "", counterBadge("3 unread messages")),
		chatCell("Carol Jones", "ok · just now"),
	)
	d := browser.NewScripted(page, "https://web.whatsapp.com/")
	// ScanReduced must work without Init.
	e := NewEngine(DefaultConfig(), d, testLogger())

	got := e.ScanReduced(context.Background())
	if len(got) != 2 {
		t.Fatalf("candidates = %+v, want 2", got)
	}
	if got[0].Confidence != 0.7 || got[1].Confidence != 0.6 {
		t.Fatalf("ordering by confidence broken: %+v", got)
	}
}
