// Package detect discovers conversations with new activity. The remote
// interface offers no stable contract, so the engine runs several
// independent strategies over candidate marker sets and consolidates
// their results into deduplicated, confidence-scored candidates.
package detect

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/browser"
)

// Strategy names reported in Candidate.Sources.
const (
	StrategyStructural    = "structural"
	StrategyUnreadCounter = "unread-counter"
	StrategyRecency       = "recency"
)

// Confidence per originating strategy.
const (
	confidenceStructural    = 0.9
	confidenceUnreadCounter = 0.7
	confidenceRecency       = 0.6
)

// ErrNotInitialized means Scan was called before a successful Init.
var ErrNotInitialized = errors.New("detection engine not initialized")

// Candidate is one conversation with suspected new activity. Candidates
// are produced fresh each scan and never persisted.
type Candidate struct {
	// ContactID is stable across scans for the same display name.
	ContactID   string
	DisplayName string
	// Confidence is the maximum across contributing strategies.
	Confidence float64
	// Sources lists the strategies that reported this contact, in
	// priority order.
	Sources    []string
	DetectedAt time.Time
	Snippet    string
	// Cell is the conversation row handle used for dispatch.
	Cell *browser.Element
}

// contactID derives a stable identifier from the display name, matching
// how conversations are keyed across cooldown and dispatch.
func contactID(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	return fmt.Sprintf("%s_%d", name, h.Sum32()%10000)
}

// excludedNames filters system surfaces and status rows that must never
// receive a reply.
var excludedNames = []string{"whatsapp", "system", "broadcast", "announcement"}

// validName reports whether s looks like a real contact or group name.
func validName(s string) bool {
	s = strings.TrimSpace(s)
	if len([]rune(s)) < 2 {
		return false
	}
	lower := strings.ToLower(s)
	for _, excluded := range excludedNames {
		if strings.Contains(lower, excluded) {
			return false
		}
	}
	return true
}

// snippet reduces a conversation row's text to a short single-line preview.
func snippet(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > 80 {
		return string(runes[:80]) + "…"
	}
	return string(runes)
}
