// Package reply turns detection candidates into delivered messages. The
// cooldown tracker decides whether a contact may be replied to at all;
// the dispatcher renders the active template and pushes it through the
// remote compose surface.
package reply

import (
	"sync"
	"time"
)

// CooldownConfig controls duplicate-reply suppression.
type CooldownConfig struct {
	// Window is the minimum gap between replies to the same contact.
	Window time.Duration `yaml:"window"`
	// RepeatWindow replaces Window once a contact has received two or
	// more replies.
	RepeatWindow time.Duration `yaml:"repeat_window"`
	// HistoryMaxAge bounds how long reply records are kept.
	HistoryMaxAge time.Duration `yaml:"history_max_age"`
}

// DefaultCooldownConfig returns the suppression defaults.
func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Window:        5 * time.Minute,
		RepeatWindow:  time.Hour,
		HistoryMaxAge: 24 * time.Hour,
	}
}

// CooldownRecord is the per-contact reply history.
type CooldownRecord struct {
	ContactID   string    `json:"contact_id"`
	LastReplyAt time.Time `json:"last_reply_at"`
	ReplyCount  int       `json:"reply_count"`
}

// CooldownStats summarizes tracker state for status reporting.
type CooldownStats struct {
	TrackedContacts  int `json:"tracked_contacts"`
	RecentRepliesOne int `json:"recent_replies_1h"`
}

// CooldownTracker gates replies per contact. A contact with no record may
// always be replied to. After the first reply the short window applies;
// once a contact has two or more replies, the longer repeat window takes
// over. Records are held in memory only and expire after HistoryMaxAge.
type CooldownTracker struct {
	cfg CooldownConfig

	mu      sync.Mutex
	records map[string]*CooldownRecord

	now func() time.Time
}

// NewCooldownTracker creates a tracker with the given windows.
func NewCooldownTracker(cfg CooldownConfig) *CooldownTracker {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.RepeatWindow <= 0 {
		cfg.RepeatWindow = time.Hour
	}
	if cfg.HistoryMaxAge <= 0 {
		cfg.HistoryMaxAge = 24 * time.Hour
	}
	return &CooldownTracker{
		cfg:     cfg,
		records: make(map[string]*CooldownRecord),
		now:     time.Now,
	}
}

// ShouldReply reports whether contactID is currently outside its window.
func (t *CooldownTracker) ShouldReply(contactID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[contactID]
	if !ok {
		return true
	}
	window := t.cfg.Window
	if rec.ReplyCount >= 2 {
		window = t.cfg.RepeatWindow
	}
	return t.now().Sub(rec.LastReplyAt) >= window
}

// RecordReply marks a reply to contactID as sent now. Stale records are
// swept opportunistically on each call.
func (t *CooldownTracker) RecordReply(contactID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec, ok := t.records[contactID]
	if !ok {
		rec = &CooldownRecord{ContactID: contactID}
		t.records[contactID] = rec
	}
	rec.LastReplyAt = now
	rec.ReplyCount++

	for id, r := range t.records {
		if now.Sub(r.LastReplyAt) > t.cfg.HistoryMaxAge {
			delete(t.records, id)
		}
	}
}

// Record returns a copy of the record for contactID, if any.
func (t *CooldownTracker) Record(contactID string) (CooldownRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[contactID]
	if !ok {
		return CooldownRecord{}, false
	}
	return *rec, true
}

// Stats reports the tracker's current footprint.
func (t *CooldownTracker) Stats() CooldownStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	recent := 0
	for _, r := range t.records {
		if now.Sub(r.LastReplyAt) < time.Hour {
			recent++
		}
	}
	return CooldownStats{
		TrackedContacts:  len(t.records),
		RecentRepliesOne: recent,
	}
}
