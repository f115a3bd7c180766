// Package server exposes the HTTP surface: submission intake, the grouped
// notification hook that feeds the processor, and a health check.
//
// Error responses carry a short reason in the x-error header and a JSON
// body {"error": reason}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/roach88/formsheet/internal/events"
	"github.com/roach88/formsheet/internal/forms"
	"github.com/roach88/formsheet/internal/processor"
)

const (
	reasonMethod      = "method not allowed"
	reasonContentType = "invalid content-type"
	reasonServer      = "server error"
	reasonUnavailable = "processor not configured"
	reasonQueueClosed = "processor stopped"
	reasonProcessing  = "processing failed"

	shutdownGrace = 5 * time.Second
)

// Enqueuer accepts grouped notifications for the single processing
// goroutine and delivers each one's result on the returned channel.
// *processor.Worker implements it.
type Enqueuer interface {
	Enqueue(n events.Grouped) (<-chan processor.Result, bool)
}

// Config wires a Server. Worker is optional; without it /grouped answers
// 503.
type Config struct {
	Validator *forms.Validator
	Publisher events.Publisher
	Worker    Enqueuer

	// Now defaults to time.Now.
	Now    func() time.Time
	Logger zerolog.Logger
}

// Server routes requests to handlers.
type Server struct {
	cfg    Config
	logger zerolog.Logger
	router *mux.Router
}

// New returns a server for cfg.
func New(cfg Config) *Server {
	if cfg.Validator == nil {
		cfg.Validator = &forms.Validator{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{cfg: cfg, logger: cfg.Logger, router: mux.NewRouter()}

	s.router.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	s.router.HandleFunc("/grouped", s.handleGrouped).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, reasonMethod)
	})
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down,
// giving in-flight requests a few seconds to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.logger.Info().Msg("server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		respondError(w, http.StatusUnsupportedMediaType, reasonContentType)
		return
	}
	body, ok := s.readBody(w, r, s.cfg.Validator.MaxPayloadBytes)
	if !ok {
		return
	}

	sub, err := s.cfg.Validator.Validate(body)
	if err != nil {
		var ve *forms.ValidationError
		if errors.As(err, &ve) {
			s.logger.Info().Str("reason", ve.Error()).Msg("rejected submission")
			respondError(w, http.StatusBadRequest, ve.Reason)
			return
		}
		s.logger.Error().Err(err).Msg("validate submission")
		respondError(w, http.StatusInternalServerError, reasonServer)
		return
	}

	ip := ClientIP(r)
	data := forms.Stamp(sub.Data, s.cfg.Now(), ip)
	s.logger.Info().Str("formId", sub.FormID).Msg("publishing form.submitted event")
	if err := s.cfg.Publisher.Publish(r.Context(), events.TypeSubmitted, events.Submitted{FormID: sub.FormID, Data: data}); err != nil {
		s.logger.Error().Err(err).Str("formId", sub.FormID).Msg("publish form.submitted")
		respondError(w, http.StatusInternalServerError, reasonServer)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"formId": sub.FormID})
}

func (s *Server) handleGrouped(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Worker == nil {
		respondError(w, http.StatusServiceUnavailable, reasonUnavailable)
		return
	}
	body, ok := s.readBody(w, r, 0)
	if !ok {
		return
	}
	n, err := processor.ParseNotification(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, processor.ErrInvalidNotification.Error())
		return
	}
	result, ok := s.cfg.Worker.Enqueue(n)
	if !ok {
		respondError(w, http.StatusServiceUnavailable, reasonQueueClosed)
		return
	}
	s.logger.Debug().Str("formId", n.FormID).Int("count", len(n.Submissions)).Msg("queued grouped notification")

	// The caller redelivers on any non-2xx, so answer only once the sheet
	// is written.
	select {
	case res := <-result:
		if res.Err != nil {
			respondError(w, http.StatusInternalServerError, reasonProcessing)
			return
		}
		respondJSON(w, http.StatusOK, res.Outcome)
	case <-r.Context().Done():
		s.logger.Warn().Str("formId", n.FormID).Msg("caller went away before the notification was processed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readBody reads at most a multiple of limit bytes so the validator can
// report oversized payloads itself. limit 0 means 16 MiB.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, limit int) ([]byte, bool) {
	max := int64(16 << 20)
	if limit > 0 {
		max = int64(limit) * 4
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, max))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusBadRequest, forms.ReasonTooLarge)
			return nil, false
		}
		respondError(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}
	return body, true
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// ClientIP returns the caller's address from proxy headers: the first
// x-forwarded-for entry, then x-real-ip, then cf-connecting-ip. It returns
// "unknown" when none is set.
func ClientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	for _, h := range []string{"X-Real-Ip", "Cf-Connecting-Ip"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	return "unknown"
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func respondError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("x-error", reason)
	respondJSON(w, status, map[string]string{"error": reason})
}
