// Package web provides the HTTP surface of the story relay: the session API
// for inspecting and editing conversation state, and the generate endpoint
// that relays an upstream token stream to the client over server-sent events.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/spindleworks/spindle/internal/cohere"
	"github.com/spindleworks/spindle/internal/session"
)

const (
	// DefaultAddr is the default address the server listens on.
	DefaultAddr = "localhost:5000"

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 15 * time.Second

	// WriteTimeout is the maximum duration before timing out writes.
	// Generate streams disable it per-request via ResponseController.
	WriteTimeout = 15 * time.Second

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout = 60 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 30 * time.Second

	// MaxJSONBodySize is the maximum size of JSON POST bodies (1MB).
	MaxJSONBodySize = 1 * 1024 * 1024

	// MaxMultipartBodySize is the maximum size of generate request bodies,
	// including attachments (10MB).
	MaxMultipartBodySize = 10 * 1024 * 1024

	// historyWindow is the fixed window returned by the history endpoint.
	historyWindow = 10
)

// tokenStream is a lazy sequence of upstream text fragments with three
// exhaustive outcomes per Recv: a fragment, io.EOF, or an error.
type tokenStream interface {
	Recv() (string, error)
	Close() error
}

// generator opens a streaming generation call. Implemented by the cohere
// client; swapped for a mock in tests.
type generator interface {
	Generate(ctx context.Context, prompt string, params cohere.Params) (tokenStream, error)
}

// cohereGenerator adapts *cohere.Client to the generator interface.
type cohereGenerator struct {
	client *cohere.Client
}

func (g cohereGenerator) Generate(ctx context.Context, prompt string, params cohere.Params) (tokenStream, error) {
	stream, err := g.client.Generate(ctx, prompt, params)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Server provides HTTP serving for the story relay.
type Server struct {
	addr   string
	server *http.Server
	logger zerolog.Logger

	store     *session.Store
	generator generator

	// streamTimeout bounds one upstream generation; expiry follows the
	// upstream error path. Zero means no timeout.
	streamTimeout time.Duration
}

// NewServer creates a server for the given store and upstream client.
// If addr is empty, DefaultAddr is used.
func NewServer(addr string, store *session.Store, client *cohere.Client, streamTimeout time.Duration, logger zerolog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		addr:          addr,
		logger:        logger.With().Str("component", "web").Logger(),
		store:         store,
		generator:     cohereGenerator{client: client},
		streamTimeout: streamTimeout,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}

	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Generation relay
	mux.HandleFunc("POST /generate", s.handleGenerate)

	// Session API
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("POST /settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("POST /history/edit/{index}", s.handleEditMessage)
	mux.HandleFunc("POST /history/clear", s.handleClearHistory)

	// Health check
	mux.HandleFunc("GET /ready", s.handleReady)
}

// ListenAndServe starts the HTTP server and blocks until the context is
// cancelled. Returns an error if the server fails to start or encounters a
// non-graceful shutdown error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("starting web server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return pkgerrors.Wrap(err, "server shutdown failed")
		}
		s.logger.Info().Msg("web server stopped")
		return nil

	case err := <-errCh:
		return pkgerrors.Wrap(err, "server error")
	}
}

// handleGetSettings serves the current generation settings.
// GET /settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Settings())
}

// settingsResponse is the JSON response for a settings update.
type settingsResponse struct {
	Message  string           `json:"message"`
	Settings session.Settings `json:"settings"`
}

// handleUpdateSettings applies a settings patch. Invalid values inside the
// patch are coerced to defaults rather than rejected; only an unreadable
// body is a client error.
// POST /settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)

	var patch session.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid settings body")
		return
	}

	updated := s.store.UpdateSettings(patch)
	s.logger.Info().
		Float64("humor", updated.Humor).
		Str("emotion", updated.Emotion).
		Bool("roast", updated.Roast).
		Msg("settings updated")

	s.writeJSON(w, http.StatusOK, settingsResponse{Message: "Settings updated", Settings: updated})
}

// historyResponse is the JSON response for history reads and edits.
type historyResponse struct {
	Message string            `json:"message,omitempty"`
	History []session.Message `json:"history"`
}

// handleHistory serves the last 10 messages, oldest first.
// GET /history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, historyResponse{History: s.store.History(historyWindow)})
}

// editRequest is the JSON body of an edit call.
type editRequest struct {
	Content string `json:"content"`
}

// handleEditMessage replaces the content of the user message at the given
// log index. Invalid targets are a client error with no mutation.
// POST /history/edit/{index}
func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid message index or not a user message")
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid edit body")
		return
	}

	if err := s.store.EditUserMessage(index, req.Content); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info().Int("index", index).Msg("user message edited")
	s.writeJSON(w, http.StatusOK, historyResponse{
		Message: "Message updated",
		History: s.store.History(historyWindow),
	})
}

// handleClearHistory empties the conversation log unconditionally.
// POST /history/clear
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.store.Clear()
	s.logger.Info().Msg("conversation history cleared")
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation history cleared"})
}

// handleReady is a health check endpoint for the frontend.
// GET /ready
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
