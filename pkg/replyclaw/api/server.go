// Package api is the thin HTTP surface over the responder: status and
// stats for dashboards, template control, forced cycles, the login QR
// and webhook verification. It holds no state of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/monitor"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/responder"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/template"
)

// Service is what the API needs from the responder.
type Service interface {
	Status(ctx context.Context) responder.Status
	Stats() monitor.Stats
	ForceCycle() bool
	Templates() *template.Registry
	QRData(ctx context.Context) (string, error)
}

// Server serves the HTTP API.
type Server struct {
	cfg    responder.APIConfig
	svc    Service
	logger *slog.Logger
	http   *http.Server
}

// New creates a stopped server.
func New(cfg responder.APIConfig, svc Service, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With("component", "api"),
	}
	s.http = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/webhook", s.handleWebhookVerify)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Post("/cycle", s.handleForceCycle)
		r.Get("/template", s.handleTemplateStatus)
		r.Post("/template/activate", s.handleTemplateActivate)
		r.Get("/qr.png", s.handleQR)
	})
	return r
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("api listening", "address", s.cfg.Address)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *Server) handleForceCycle(w http.ResponseWriter, r *http.Request) {
	queued := s.svc.ForceCycle()
	code := http.StatusAccepted
	if !queued {
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]bool{"queued": queued})
}

func (s *Server) handleTemplateStatus(w http.ResponseWriter, r *http.Request) {
	reg := s.svc.Templates()
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    reg.Status(),
		"available": reg.IDs(),
	})
}

func (s *Server) handleTemplateActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"id\": \"<template>\"}"})
		return
	}
	if err := s.svc.Templates().Activate(req.ID); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, template.ErrTemplateNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Templates().Status())
}

// handleQR renders the current login pairing payload as a PNG so an
// operator can scan it from a dashboard instead of the server's screen.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	data, err := s.svc.QRData(r.Context())
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "login screen not showing"})
		return
	}
	png, err := qrcode.Encode(data, qrcode.Medium, 512)
	if err != nil {
		s.logger.Error("qr encode failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "qr encoding failed"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleWebhookVerify answers the platform's subscription handshake: echo
// hub.challenge when the mode and verify token match.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && s.cfg.WebhookVerifyToken != "" && token == s.cfg.WebhookVerifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}
	s.logger.Warn("webhook verification rejected", "mode", mode)
	http.Error(w, "verification failed", http.StatusForbidden)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
