package web

import (
	"encoding/json"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Downstream event payloads. A generate connection delivers exactly one
// generating event, zero or more text events in arrival order, and exactly
// one terminal event (done or error), after which the server closes the
// connection.
type (
	statusEvent struct {
		Status string `json:"status"`
	}
	textEvent struct {
		Text string `json:"text"`
	}
	errorEvent struct {
		Error string `json:"error"`
	}
)

// eventStream is a one-way server-push connection opened in response to a
// generate request. Events are framed as SSE data lines:
//
//	data: <json>
//	<blank line>
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newEventStream upgrades the response to a server-sent event stream.
// Returns an error when the underlying writer does not support flushing;
// in that case nothing has been written yet.
func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, pkgerrors.New("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The server's WriteTimeout would otherwise kill a long-running stream.
	// Ignore the error: recorders used in tests don't support deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventStream{w: w, flusher: flusher}, nil
}

// send writes one event and flushes it immediately. A write error means the
// client is gone; the caller must stop streaming and abort upstream
// consumption.
func (es *eventStream) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal event")
	}

	if _, err := es.w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return pkgerrors.Wrap(err, "write event")
	}
	es.flusher.Flush()
	return nil
}
