package session

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/browser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func loggedInTree() *browser.Node {
	return &browser.Node{
		Markers: []string{"html"},
		Children: []*browser.Node{
			{Markers: []string{"div[id='pane-side']"}},
		},
	}
}

func qrTree(dataRef string) *browser.Node {
	return &browser.Node{
		Markers: []string{"html"},
		Children: []*browser.Node{
			{
				Markers: []string{"div[data-testid*='qr']", "div[data-ref]"},
				Attrs:   map[string]string{"data-ref": dataRef},
			},
		},
	}
}

func newTestStore(t *testing.T, driver browser.Driver, maxBackups int) *Store {
	t.Helper()
	dir := t.TempDir()
	profile := filepath.Join(dir, "profile")
	if err := os.MkdirAll(filepath.Join(profile, "Default"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(profile, "Default", "cookies.txt"), []byte("session-cookie"), 0o644); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "replyclaw.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(Config{
		ProfileDir: profile,
		BackupDir:  filepath.Join(dir, "backups"),
		MaxBackups: maxBackups,
	}, driver, db, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated marker", func(t *testing.T) {
		d := browser.NewScripted(loggedInTree(), "https://web.whatsapp.com/")
		store := newTestStore(t, d, 5)

		status, err := store.Validate(ctx)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if status != StatusValid {
			t.Fatalf("status = %s, want %s", status, StatusValid)
		}
		if sess := store.Session(); sess.LastValidatedAt.IsZero() {
			t.Error("LastValidatedAt not set")
		}
	})

	t.Run("qr screen before first login stays unauthenticated", func(t *testing.T) {
		d := browser.NewScripted(qrTree("ref"), "https://web.whatsapp.com/")
		store := newTestStore(t, d, 5)

		status, err := store.Validate(ctx)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if status != StatusUnauthenticated {
			t.Fatalf("status = %s, want %s", status, StatusUnauthenticated)
		}
	})

	t.Run("qr screen after login means expired", func(t *testing.T) {
		d := browser.NewScripted(loggedInTree(), "https://web.whatsapp.com/")
		store := newTestStore(t, d, 5)
		if _, err := store.Validate(ctx); err != nil {
			t.Fatal(err)
		}

		d.SetRoot(qrTree("ref"))
		status, err := store.Validate(ctx)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if status != StatusExpired {
			t.Fatalf("status = %s, want %s", status, StatusExpired)
		}
	})

	t.Run("address fallback", func(t *testing.T) {
		d := browser.NewScripted(&browser.Node{Markers: []string{"html"}}, "https://web.whatsapp.com/")
		store := newTestStore(t, d, 5)

		status, err := store.Validate(ctx)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if status != StatusValid {
			t.Fatalf("status = %s, want %s", status, StatusValid)
		}
	})
}

func TestBackupRequiresValidSession(t *testing.T) {
	d := browser.NewScripted(qrTree("ref"), "https://web.whatsapp.com/")
	store := newTestStore(t, d, 5)

	if _, err := store.Backup(context.Background()); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("Backup error = %v, want ErrSessionInvalid", err)
	}
}

func TestBackupRetentionFIFO(t *testing.T) {
	ctx := context.Background()
	d := browser.NewScripted(loggedInTree(), "https://web.whatsapp.com/")
	store := newTestStore(t, d, 3)
	if _, err := store.Validate(ctx); err != nil {
		t.Fatal(err)
	}

	var sequences []int64
	for i := 0; i < 5; i++ {
		b, err := store.Backup(ctx)
		if err != nil {
			t.Fatalf("Backup %d: %v", i, err)
		}
		sequences = append(sequences, b.Sequence)
	}

	backups, err := store.ListBackups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 3 {
		t.Fatalf("backup count = %d, want 3", len(backups))
	}
	// Newest first; the two oldest sequences must be gone.
	for i, want := range []int64{sequences[4], sequences[3], sequences[2]} {
		if backups[i].Sequence != want {
			t.Errorf("backups[%d].Sequence = %d, want %d", i, backups[i].Sequence, want)
		}
	}
	for _, b := range backups {
		if _, err := os.Stat(b.PayloadPath); err != nil {
			t.Errorf("payload missing for sequence %d: %v", b.Sequence, err)
		}
	}
}

func TestRestoreSkipsCorruptedNewest(t *testing.T) {
	ctx := context.Background()
	d := browser.NewScripted(loggedInTree(), "https://web.whatsapp.com/")
	store := newTestStore(t, d, 5)
	if _, err := store.Validate(ctx); err != nil {
		t.Fatal(err)
	}

	older, err := store.Backup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	newest, err := store.Backup(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Tamper with the newest snapshot so its hash no longer matches.
	f, err := os.OpenFile(newest.PayloadPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("garbage")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	// Session goes bad; a reload after restore brings the interface back.
	d.SetRoot(qrTree("ref"))
	d.SetLocation("https://web.whatsapp.com/qr")
	d.OnReload = func(sd *browser.ScriptedDriver) {
		sd.SetRoot(loggedInTree())
		sd.SetLocation("https://web.whatsapp.com/")
	}

	status, err := store.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if status != StatusValid {
		t.Fatalf("status = %s, want %s", status, StatusValid)
	}

	backups, err := store.ListBackups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 || backups[0].Sequence != older.Sequence {
		t.Fatalf("surviving backups = %+v, want only sequence %d", backups, older.Sequence)
	}
}

func TestRestoreExhaustedBackups(t *testing.T) {
	ctx := context.Background()
	d := browser.NewScripted(loggedInTree(), "https://web.whatsapp.com/")
	store := newTestStore(t, d, 5)
	if _, err := store.Validate(ctx); err != nil {
		t.Fatal(err)
	}

	b, err := store.Backup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b.PayloadPath, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	d.SetRoot(qrTree("ref"))
	d.SetLocation("https://web.whatsapp.com/qr")

	status, err := store.Restore(ctx)
	if !errors.Is(err, ErrSessionRestoreFailed) {
		t.Fatalf("Restore error = %v, want ErrSessionRestoreFailed", err)
	}
	if status != StatusUnauthenticated {
		t.Fatalf("status = %s, want %s", status, StatusUnauthenticated)
	}
	if sess := store.Session(); sess.Status != StatusUnauthenticated {
		t.Fatalf("session status = %s, want %s", sess.Status, StatusUnauthenticated)
	}
}

func TestQRData(t *testing.T) {
	d := browser.NewScripted(qrTree("2@abcdef,pairing-payload"), "https://web.whatsapp.com/")
	store := newTestStore(t, d, 5)

	data, err := store.QRData(context.Background())
	if err != nil {
		t.Fatalf("QRData: %v", err)
	}
	if data != "2@abcdef,pairing-payload" {
		t.Fatalf("QRData = %q", data)
	}
}
