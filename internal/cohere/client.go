// Package cohere implements the upstream streaming client for the Cohere
// generate API. A generation is exposed as a Stream: a lazy, finite,
// non-restartable sequence of text fragments with three exhaustive outcomes
// per Recv call (next fragment, io.EOF on normal completion, error).
package cohere

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// ErrUpstream is returned for any failure while calling or reading from the
// generation provider: connection failure, non-success status, or a broken
// stream. Individual malformed stream lines are skipped, not fatal.
var ErrUpstream = errors.New("upstream generation failed")

// streamDataPrefix optionally marks JSON payload lines in the response.
const streamDataPrefix = "data: "

// maxErrorBody limits how much of an upstream error response is read for
// diagnostics.
const maxErrorBody = 4096

// Client calls the Cohere generate API.
type Client struct {
	endpoint string
	model    string
	apiKey   string

	// httpClient carries no overall timeout; the caller's context bounds
	// each streaming request instead.
	httpClient *http.Client

	logger zerolog.Logger
}

// NewClient creates a client for the given endpoint, model, and credential.
func NewClient(endpoint, model, apiKey string, logger zerolog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		endpoint:   endpoint,
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "cohere").Logger(),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate opens a single streaming generate call and returns the resulting
// Stream. The context bounds the entire call, including reading the stream;
// cancelling it aborts consumption. A nil error means the upstream accepted
// the request; failures while reading are reported by Stream.Recv.
func (c *Client) Generate(ctx context.Context, prompt string, params Params) (*Stream, error) {
	body, err := json.Marshal(generateRequest{
		Model:             c.model,
		Prompt:            prompt,
		MaxTokens:         MaxTokens,
		Temperature:       params.Temperature,
		StopSequences:     StopSequences,
		K:                 params.TopK,
		ReturnLikelihoods: "NONE",
		Stream:            true,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "marshal generate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create generate request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, upstreamErrorMessage(errBody))
	}

	return &Stream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		logger:  c.logger,
	}, nil
}

// upstreamErrorMessage extracts a human-readable message from an upstream
// error body, falling back to the raw body.
func upstreamErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		return msg.String()
	}
	return strings.TrimSpace(string(body))
}

// Stream is one in-flight generation. It is not safe for concurrent use and
// cannot be restarted once consumed.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  zerolog.Logger
	done    bool
}

// Recv returns the next text fragment from the stream.
//
// Lines that are blank, are not valid JSON, or carry no text field are
// skipped and logged, never fatal. Recv returns io.EOF when the upstream
// signals completion and an ErrUpstream-wrapped error when reading fails
// mid-stream. After either outcome the stream is exhausted.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimPrefix(s.scanner.Text(), streamDataPrefix)
		if line == "" {
			continue
		}

		if !gjson.Valid(line) {
			s.logger.Debug().Str("line", line).Msg("skipping malformed stream line")
			continue
		}

		payload := gjson.Parse(line)
		if payload.Get("is_finished").Bool() {
			s.done = true
			return "", io.EOF
		}

		text := payload.Get("text")
		if !text.Exists() || text.String() == "" {
			continue
		}
		return text.String(), nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: reading stream: %v", ErrUpstream, err)
	}
	return "", io.EOF
}

// Close releases the underlying response body. Safe to call at any point,
// including after Recv has returned io.EOF or an error.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}
