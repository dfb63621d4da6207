package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/monitor"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/responder"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/session"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/template"
)

type stubService struct {
	templates  *template.Registry
	forceOK    bool
	qrData     string
	qrErr      error
	statsValue monitor.Stats
}

func (s *stubService) Status(context.Context) responder.Status {
	return responder.Status{
		Running: true,
		Session: session.Stats{State: session.StatusValid, BackupCount: 2},
	}
}
func (s *stubService) Stats() monitor.Stats              { return s.statsValue }
func (s *stubService) ForceCycle() bool                  { return s.forceOK }
func (s *stubService) Templates() *template.Registry     { return s.templates }
func (s *stubService) QRData(context.Context) (string, error) {
	return s.qrData, s.qrErr
}

func newTestServer(svc *stubService, verifyToken string) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(responder.APIConfig{
		Address:            ":0",
		WebhookVerifyToken: verifyToken,
	}, svc, logger)
}

func newStub() *stubService {
	return &stubService{
		templates: template.NewRegistry(map[string]string{
			"form_link":   "https://example.com/apply",
			"sender_name": "Sam Wheeler",
		}),
		forceOK:   true,
	}
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, newTestServer(newStub(), ""), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	rec := doRequest(t, newTestServer(newStub(), ""), http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got responder.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Running || got.Session.State != session.StatusValid {
		t.Fatalf("body = %+v", got)
	}
}

func TestForceCycle(t *testing.T) {
	stub := newStub()
	s := newTestServer(stub, "")

	rec := doRequest(t, s, http.MethodPost, "/api/cycle", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	stub.forceOK = false
	rec = doRequest(t, s, http.MethodPost, "/api/cycle", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 when already queued", rec.Code)
	}
}

func TestTemplateActivate(t *testing.T) {
	s := newTestServer(newStub(), "")

	rec := doRequest(t, s, http.MethodPost, "/api/template/activate", `{"id":"enhanced"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/template/activate", `{"id":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/template/activate", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQREndpoint(t *testing.T) {
	stub := newStub()
	stub.qrData = "2@abcdef,pairing-payload"
	s := newTestServer(stub, "")

	rec := doRequest(t, s, http.MethodGet, "/api/qr.png", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}

	stub.qrErr = errors.New("not showing")
	stub.qrData = ""
	rec = doRequest(t, s, http.MethodGet, "/api/qr.png", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 without login screen", rec.Code)
	}
}

func TestWebhookVerification(t *testing.T) {
	s := newTestServer(newStub(), "secret-token")

	rec := doRequest(t, s, http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Fatalf("challenge echo = %q", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 on bad token", rec.Code)
	}
}
