// Package server exposes the chat service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
	"medrag/internal/index"
	"medrag/internal/logging"
	"medrag/internal/service"
	"medrag/internal/session"
)

const maxBodyBytes = 1 << 20

// ChatService is the subset of service.Chat the HTTP layer needs.
type ChatService interface {
	StartSession(userID string) *session.Session
	EndSession(id string) error
	Ask(ctx context.Context, sessionID, query string, profile *domain.UserProfile) (*service.Answer, error)
	Rebuild(ctx context.Context) (*service.BuildReport, error)
	Generation() *index.Generation
}

// ProfileStore reads and writes health profiles.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*domain.UserProfile, error)
	Save(ctx context.Context, p *domain.UserProfile) error
}

type Server struct {
	router   *chi.Mux
	chat     ChatService
	profiles ProfileStore
}

func New(chat ChatService, profiles ProfileStore) *Server {
	r := chi.NewRouter()
	s := &Server{router: r, chat: chat, profiles: profiles}

	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Route("/api", func(r chi.Router) {
		r.Route("/chat", func(r chi.Router) {
			r.Post("/start", s.startChat)
			r.Post("/{sessionId}/message", s.chatMessage)
			r.Delete("/{sessionId}", s.endChat)
		})
		if profiles != nil {
			r.Route("/health-profile", func(r chi.Router) {
				r.Post("/save", s.saveProfile)
				r.Get("/{userId}", s.getProfile)
			})
		}
		r.Post("/index/rebuild", s.rebuild)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.From(r.Context()).Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	g := s.chat.Generation()
	if g == nil {
		writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]any{"status": "no index"})
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":     "ok",
		"generation": g.ID,
		"model":      g.Model,
		"sentences":  len(g.Sentences),
	})
}

func (s *Server) startChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decode(w, r, &req); err != nil {
		handleError(r.Context(), w, err)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = "unknown"
	}
	sess := s.chat.StartSession(userID)
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"sessionId":      sess.ID,
		"welcomeMessage": "Hello " + userID + "! I'm your AI assistant.",
	})
}

func (s *Server) chatMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message     string              `json:"message"`
		UserProfile *domain.UserProfile `json:"userProfile,omitempty"`
	}
	if err := decode(w, r, &req); err != nil {
		handleError(r.Context(), w, err)
		return
	}
	ans, err := s.chat.Ask(r.Context(), chi.URLParam(r, "sessionId"), req.Message, req.UserProfile)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, ans)
}

func (s *Server) endChat(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.EndSession(chi.URLParam(r, "sessionId")); err != nil {
		handleError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{"profile": p})
}

func (s *Server) saveProfile(w http.ResponseWriter, r *http.Request) {
	var p domain.UserProfile
	if err := decode(w, r, &p); err != nil {
		handleError(r.Context(), w, err)
		return
	}
	if err := s.profiles.Save(r.Context(), &p); err != nil {
		handleError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{"profile": p})
}

func (s *Server) rebuild(w http.ResponseWriter, r *http.Request) {
	// A client hanging up must not abort a rebuild halfway.
	ctx := context.WithoutCancel(r.Context())
	report, err := s.chat.Rebuild(ctx)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, report)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return goerr.Wrap(domain.ErrInvalidArgument, "malformed request body", goerr.V("cause", err.Error()))
	}
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.From(ctx).Warn("failed to write response", logging.ErrAttrs(err)...)
	}
}

// StatusOf maps an error to the HTTP status code it is reported with.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPromptTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBuildInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleError logs the error and writes a JSON error response.
func handleError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusOf(err)
	log := logging.From(ctx)
	attrs := append([]any{"status", status}, logging.ErrAttrs(err)...)
	if status >= http.StatusInternalServerError {
		log.Error("HTTP error", attrs...)
	} else {
		log.Info("request rejected", attrs...)
	}
	writeJSON(ctx, w, status, map[string]string{"error": err.Error()})
}
