// Package session owns the authenticated WhatsApp Web session: it probes
// the remote interface for authentication state, snapshots the browser
// profile into integrity-hashed backups, restores the newest usable backup
// when the session expires, and enforces the backup retention policy.
package session

import (
	"errors"
	"time"
)

// Status is the authentication state of the session.
type Status string

const (
	// StatusUnauthenticated means no login has been observed and no
	// usable backup exists. Terminal until an operator scans the QR.
	StatusUnauthenticated Status = "unauthenticated"

	// StatusValid means the remote interface shows an authenticated state.
	StatusValid Status = "valid"

	// StatusExpired means validation failed for a previously valid session.
	StatusExpired Status = "expired"

	// StatusCorrupted means validation failed and the newest backup's
	// integrity hash no longer matches its payload.
	StatusCorrupted Status = "corrupted"
)

// Session is the single authenticated session of the process. Mutated only
// by the Store.
type Session struct {
	ID              string
	CreatedAt       time.Time
	LastValidatedAt time.Time
	Status          Status
}

// Backup is one persisted session snapshot. Backups are append-only; the
// only mutation is FIFO pruning once the retention limit is exceeded.
type Backup struct {
	ID              string
	SourceSessionID string
	Sequence        int64
	CreatedAt       time.Time
	IntegrityHash   string
	PayloadPath     string
}

// Errors surfaced by the Store.
var (
	// ErrSessionInvalid means validation found no authenticated state.
	ErrSessionInvalid = errors.New("session is not authenticated")

	// ErrSessionRestoreFailed means every backup was exhausted without
	// producing a valid session; fresh interactive login is required.
	ErrSessionRestoreFailed = errors.New("session restore failed, re-authentication required")

	// ErrNoDriver means a driver-dependent operation was called on a
	// store opened without a browser (e.g. the backups CLI).
	ErrNoDriver = errors.New("session store has no browser driver")
)
