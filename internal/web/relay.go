package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/spindleworks/spindle/internal/cohere"
	"github.com/spindleworks/spindle/internal/prompt"
	"github.com/spindleworks/spindle/internal/session"
)

// ErrEmptyRequest is returned when a generate request carries no prompt,
// file, or image. Rejected before any stream is opened or state is mutated.
var ErrEmptyRequest = errors.New("prompt, file, or image is required")

// upstreamErrorMessage is the human-readable message sent downstream when
// the generation provider fails. The full error is logged server-side.
const upstreamErrorMessage = "Story generation failed. Please try again."

// handleGenerate relays one generation request end-to-end.
// POST /generate (multipart: optional prompt field, optional file and image
// parts).
//
// The request moves through validation, user-turn commit, upstream
// streaming, and assistant-turn commit. The response is a server-sent event
// stream delivering exactly one generating event, the text fragments in
// arrival order, and one terminal event (done or error). Once the user turn
// is committed it is never rolled back, even when the upstream fails
// mid-stream.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With().Str("handler", "generate").Logger()

	r.Body = http.MaxBytesReader(w, r.Body, MaxMultipartBodySize)

	req, err := parseGenerateRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Empty() {
		// Fail fast: no stream opened, no message appended.
		s.writeError(w, http.StatusBadRequest, ErrEmptyRequest.Error())
		return
	}

	turn := prompt.TurnContent(req)
	settings := s.store.Settings()

	stream, err := newEventStream(w)
	if err != nil {
		logger.Error().Err(err).Msg("cannot open event stream")
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Commit the user turn before contacting the upstream. The stored
	// content is the turn content only, never the instruction suffix.
	s.store.Append(session.NewMessage(session.RoleUser, turn))

	if err := stream.send(statusEvent{Status: "generating"}); err != nil {
		logger.Warn().Err(err).Msg("client disconnected before streaming")
		return
	}

	composed := prompt.Compose(s.store.History(s.store.Len()), prompt.Instruct(turn, settings))

	ctx := r.Context()
	if s.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.streamTimeout)
		defer cancel()
	}

	text, err := s.relayStream(ctx, stream, composed, settings)
	if err != nil {
		if errors.Is(err, errClientGone) {
			// Nobody left to notify; the connection close is the signal.
			logger.Warn().Msg("client disconnected mid-stream, aborted upstream")
			return
		}
		logger.Error().Err(err).Msg("generation failed")
		_ = stream.send(errorEvent{Error: upstreamErrorMessage})
		return
	}

	// Normal completion: commit the assistant turn, then the terminal event.
	s.store.Append(session.NewMessage(session.RoleAssistant, text))
	logger.Info().Int("length", len(text)).Msg("story generated")
	_ = stream.send(statusEvent{Status: "done"})
}

// errClientGone marks a failed downstream write: the client disconnected and
// no terminal event can be delivered.
var errClientGone = errors.New("client disconnected")

// relayStream drives the upstream stream, forwarding each fragment
// downstream in arrival order while accumulating the full text. Returns the
// accumulated text on normal completion. Any upstream failure, including
// timeout expiry, is returned as-is; a downstream write failure returns
// errClientGone after aborting upstream consumption.
func (s *Server) relayStream(ctx context.Context, stream *eventStream, composed string, settings session.Settings) (string, error) {
	upstream, err := s.generator.Generate(ctx, composed, cohere.ParamsFromSettings(settings))
	if err != nil {
		return "", err
	}
	defer upstream.Close()

	var text strings.Builder
	for {
		fragment, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			return "", err
		}

		text.WriteString(fragment)
		if err := stream.send(textEvent{Text: fragment}); err != nil {
			// Closing the stream releases the upstream connection; the
			// request context is also cancelled when the client goes away.
			return "", errClientGone
		}
	}
}

// parseGenerateRequest extracts the prompt text and attachments from a
// multipart generate request. Attachment decoding is limited to reading the
// file part's bytes as UTF-8 text and capturing the image part's filename.
func parseGenerateRequest(r *http.Request) (prompt.Request, error) {
	if err := r.ParseMultipartForm(MaxMultipartBodySize); err != nil {
		// Plain form bodies are accepted for prompt-only requests.
		if !errors.Is(err, http.ErrNotMultipart) {
			return prompt.Request{}, errors.New("invalid request body")
		}
		if err := r.ParseForm(); err != nil {
			return prompt.Request{}, errors.New("invalid request body")
		}
	}

	req := prompt.Request{Prompt: strings.TrimSpace(r.FormValue("prompt"))}

	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return prompt.Request{}, errors.New("failed to read file attachment")
		}
		req.FileText = string(data)
	}

	if _, header, err := r.FormFile("image"); err == nil {
		req.ImageName = header.Filename
	}

	return req, nil
}
