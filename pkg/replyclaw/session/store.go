package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/browser"
)

// authenticatedMarkers are probed in order; the first visible match means
// the session is logged in. Several generations of the WhatsApp Web DOM
// are covered because the interface changes without notice.
var authenticatedMarkers = []string{
	"div[data-testid='chat-list']",
	"div[data-testid='app-wrapper-panelheader']",
	"div[data-testid='chatlist-header']",
	"div[id='pane-side']",
	"div[data-testid='side']",
	"div[data-testid='conversation-list']",
	"div[class*='app-wrapper-web']",
	"div[class*='main']",
	"header[data-testid*='header']",
}

// qrMarkers identify the login QR screen.
var qrMarkers = []string{
	"canvas[aria-label*='qr']",
	"canvas[aria-label*='QR']",
	"div[data-testid*='qr']",
	"div[class*='qr']",
}

// qrDataMarkers carry the raw pairing payload in a data-ref attribute.
var qrDataMarkers = []string{
	"div[data-ref]",
	"canvas[aria-label*='qr']",
}

// Config controls profile snapshots and validation.
type Config struct {
	// ProfileDir is the browser profile directory that holds the session.
	ProfileDir string `yaml:"profile_dir"`
	// BackupDir is where profile snapshots are written.
	BackupDir string `yaml:"backup_dir"`
	// MaxBackups is the retention limit; the oldest snapshot is pruned
	// first once the limit is exceeded.
	MaxBackups int `yaml:"max_backups"`
	// MaxAge flags sessions older than this for re-authentication advice.
	MaxAge time.Duration `yaml:"max_age"`
	// ValidateTimeout bounds a single validation probe.
	ValidateTimeout time.Duration `yaml:"validate_timeout"`
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		ProfileDir:      "data/profile",
		BackupDir:       "data/backups",
		MaxBackups:      5,
		MaxAge:          7 * 24 * time.Hour,
		ValidateTimeout: 15 * time.Second,
	}
}

// Stats is a read-only view of the store for status reporting.
type Stats struct {
	SessionID       string    `json:"session_id"`
	State           Status    `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	LastValidatedAt time.Time `json:"last_validated_at,omitempty"`
	LastBackupAt    time.Time `json:"last_backup_at,omitempty"`
	BackupCount     int       `json:"backup_count"`
	AgeFlagged      bool      `json:"age_flagged"`
}

// Store is the single writer for session state. It validates against the
// live page, snapshots the profile, and replays backups newest-first when
// the session goes bad.
type Store struct {
	cfg    Config
	driver browser.Driver
	db     *sql.DB
	logger *slog.Logger

	mu           sync.Mutex
	session      *Session
	lastBackupAt time.Time
}

const backupSchema = `
CREATE TABLE IF NOT EXISTS session_backups (
	sequence INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	source_session_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	integrity_hash TEXT NOT NULL,
	payload_path TEXT NOT NULL
);`

// NewStore opens a store over the given database. driver may be nil for
// offline use (listing and pruning backups); Validate, Backup and Restore
// then return ErrNoDriver.
func NewStore(cfg Config, driver browser.Driver, db *sql.DB, logger *slog.Logger) (*Store, error) {
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = 15 * time.Second
	}
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	if _, err := db.Exec(backupSchema); err != nil {
		return nil, fmt.Errorf("create backup schema: %w", err)
	}
	s := &Store{
		cfg:    cfg,
		driver: driver,
		db:     db,
		logger: logger.With("component", "session"),
		session: &Session{
			ID:        uuid.New().String(),
			CreatedAt: time.Now(),
			Status:    StatusUnauthenticated,
		},
	}
	if last, err := s.newestBackup(); err == nil && last != nil {
		s.lastBackupAt = last.CreatedAt
	}
	return s, nil
}

// Session returns a copy of the current session.
func (s *Store) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.session
}

// Validate probes the live page for an authenticated state and updates the
// session accordingly. Probe order: authenticated markers, then the QR
// screen, then the current address as a last resort. A session that was
// never valid stays Unauthenticated on a failed probe; a previously valid
// one becomes Expired, or Corrupted when the newest backup no longer
// matches its integrity hash.
func (s *Store) Validate(ctx context.Context) (Status, error) {
	if s.driver == nil {
		return StatusUnauthenticated, ErrNoDriver
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ValidateTimeout)
	defer cancel()

	now := time.Now()
	if _, err := s.driver.LocateByCandidateSet(ctx, authenticatedMarkers); err == nil {
		s.mu.Lock()
		s.session.Status = StatusValid
		s.session.LastValidatedAt = now
		s.mu.Unlock()
		return StatusValid, nil
	} else if !errors.Is(err, browser.ErrElementNotFound) {
		return s.currentStatus(), fmt.Errorf("validation probe: %w", err)
	}

	qrVisible := false
	if _, err := s.driver.LocateByCandidateSet(ctx, qrMarkers); err == nil {
		qrVisible = true
	}

	if !qrVisible {
		if loc, err := s.driver.Location(ctx); err == nil {
			if strings.Contains(loc, "web.whatsapp.com") && !strings.Contains(strings.ToLower(loc), "qr") {
				s.mu.Lock()
				s.session.Status = StatusValid
				s.session.LastValidatedAt = now
				s.mu.Unlock()
				s.logger.Debug("validated via address fallback", "location", loc)
				return StatusValid, nil
			}
		}
	}

	failed := StatusExpired
	if s.newestBackupCorrupted() {
		failed = StatusCorrupted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status == StatusUnauthenticated {
		// Never logged in; nothing has expired yet.
		return StatusUnauthenticated, nil
	}
	s.session.Status = failed
	return failed, nil
}

// Backup snapshots the profile directory into the backup store and prunes
// past the retention limit. The session must currently be valid.
func (s *Store) Backup(ctx context.Context) (*Backup, error) {
	if s.driver == nil {
		return nil, ErrNoDriver
	}
	s.mu.Lock()
	if s.session.Status != StatusValid {
		s.mu.Unlock()
		return nil, ErrSessionInvalid
	}
	sessionID := s.session.ID
	s.mu.Unlock()

	id := uuid.New().String()
	createdAt := time.Now()
	payload := filepath.Join(s.cfg.BackupDir, fmt.Sprintf("session-%s-%s.zip", createdAt.Format("20060102-150405"), id[:8]))

	if err := zipDir(s.cfg.ProfileDir, payload); err != nil {
		os.Remove(payload)
		return nil, fmt.Errorf("snapshot profile: %w", err)
	}
	hash, err := fileSHA256(payload)
	if err != nil {
		os.Remove(payload)
		return nil, fmt.Errorf("hash snapshot: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO session_backups (id, source_session_id, created_at, integrity_hash, payload_path)
		 VALUES (?, ?, ?, ?, ?)`,
		id, sessionID, createdAt, hash, payload)
	if err != nil {
		os.Remove(payload)
		return nil, fmt.Errorf("record backup: %w", err)
	}
	seq, _ := res.LastInsertId()

	s.mu.Lock()
	s.lastBackupAt = createdAt
	s.mu.Unlock()

	if err := s.Prune(ctx); err != nil {
		s.logger.Warn("backup prune failed", "error", err)
	}
	s.logger.Info("session backed up", "backup_id", id, "sequence", seq)

	return &Backup{
		ID:              id,
		SourceSessionID: sessionID,
		Sequence:        seq,
		CreatedAt:       createdAt,
		IntegrityHash:   hash,
		PayloadPath:     payload,
	}, nil
}

// Restore walks backups newest-first, verifying each snapshot's integrity
// hash before unpacking it over the profile and re-validating. A candidate
// that fails verification or post-restore validation is discarded and the
// next-older one is tried. Exhausting every backup leaves the session
// Unauthenticated and returns ErrSessionRestoreFailed.
func (s *Store) Restore(ctx context.Context) (Status, error) {
	if s.driver == nil {
		return StatusUnauthenticated, ErrNoDriver
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return s.currentStatus(), fmt.Errorf("list backups: %w", err)
	}

	for _, b := range backups {
		if err := ctx.Err(); err != nil {
			return s.currentStatus(), err
		}
		hash, err := fileSHA256(b.PayloadPath)
		if err != nil || hash != b.IntegrityHash {
			s.logger.Warn("discarding corrupted backup", "backup_id", b.ID, "sequence", b.Sequence)
			s.discardBackup(ctx, b)
			continue
		}
		if err := clearDir(s.cfg.ProfileDir); err != nil {
			return s.currentStatus(), fmt.Errorf("clear profile: %w", err)
		}
		if err := unzipTo(b.PayloadPath, s.cfg.ProfileDir); err != nil {
			s.logger.Warn("discarding unreadable backup", "backup_id", b.ID, "error", err)
			s.discardBackup(ctx, b)
			continue
		}
		if err := s.driver.Reload(ctx); err != nil {
			return s.currentStatus(), fmt.Errorf("reload after restore: %w", err)
		}

		// Mark the session as previously-valid so a failed probe reads
		// Expired rather than sticking at Unauthenticated.
		s.mu.Lock()
		s.session.Status = StatusExpired
		s.mu.Unlock()

		status, err := s.Validate(ctx)
		if err != nil {
			return status, err
		}
		if status == StatusValid {
			s.logger.Info("session restored", "backup_id", b.ID, "sequence", b.Sequence)
			return StatusValid, nil
		}
		s.logger.Warn("restored backup failed validation, discarding", "backup_id", b.ID)
		s.discardBackup(ctx, b)
	}

	s.mu.Lock()
	s.session.Status = StatusUnauthenticated
	s.mu.Unlock()
	return StatusUnauthenticated, ErrSessionRestoreFailed
}

// Prune deletes the oldest backups until the retention limit is met.
func (s *Store) Prune(ctx context.Context) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= s.cfg.MaxBackups {
		return nil
	}
	// ListBackups is newest-first; everything past the limit goes.
	for _, b := range backups[s.cfg.MaxBackups:] {
		s.logger.Info("pruning backup", "backup_id", b.ID, "sequence", b.Sequence)
		s.discardBackup(ctx, b)
	}
	return nil
}

// ListBackups returns all recorded backups, newest first.
func (s *Store) ListBackups(ctx context.Context) ([]Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, id, source_session_id, created_at, integrity_hash, payload_path
		 FROM session_backups ORDER BY sequence DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Backup
	for rows.Next() {
		var b Backup
		if err := rows.Scan(&b.Sequence, &b.ID, &b.SourceSessionID, &b.CreatedAt, &b.IntegrityHash, &b.PayloadPath); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// QRData returns the raw pairing payload from the login screen, if shown.
func (s *Store) QRData(ctx context.Context) (string, error) {
	if s.driver == nil {
		return "", ErrNoDriver
	}
	el, err := s.driver.LocateByCandidateSet(ctx, qrDataMarkers)
	if err != nil {
		return "", fmt.Errorf("qr screen not visible: %w", err)
	}
	data, err := s.driver.Attribute(ctx, el, "data-ref")
	if err != nil || data == "" {
		return "", fmt.Errorf("qr payload not available: %w", browser.ErrElementNotFound)
	}
	return data, nil
}

// Stats reports the current session and backup state.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	sess := *s.session
	lastBackup := s.lastBackupAt
	s.mu.Unlock()

	count := 0
	if backups, err := s.ListBackups(ctx); err == nil {
		count = len(backups)
	}
	return Stats{
		SessionID:       sess.ID,
		State:           sess.Status,
		CreatedAt:       sess.CreatedAt,
		LastValidatedAt: sess.LastValidatedAt,
		LastBackupAt:    lastBackup,
		BackupCount:     count,
		AgeFlagged:      s.cfg.MaxAge > 0 && time.Since(sess.CreatedAt) > s.cfg.MaxAge,
	}
}

func (s *Store) currentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Status
}

func (s *Store) discardBackup(ctx context.Context, b Backup) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_backups WHERE sequence = ?`, b.Sequence); err != nil {
		s.logger.Warn("failed to delete backup row", "sequence", b.Sequence, "error", err)
	}
	if err := os.Remove(b.PayloadPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to delete backup payload", "path", b.PayloadPath, "error", err)
	}
}

func (s *Store) newestBackup() (*Backup, error) {
	row := s.db.QueryRow(
		`SELECT sequence, id, source_session_id, created_at, integrity_hash, payload_path
		 FROM session_backups ORDER BY sequence DESC LIMIT 1`)
	var b Backup
	if err := row.Scan(&b.Sequence, &b.ID, &b.SourceSessionID, &b.CreatedAt, &b.IntegrityHash, &b.PayloadPath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) newestBackupCorrupted() bool {
	b, err := s.newestBackup()
	if err != nil || b == nil {
		return false
	}
	hash, err := fileSHA256(b.PayloadPath)
	return err != nil || hash != b.IntegrityHash
}
