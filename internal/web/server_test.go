package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spindleworks/spindle/internal/session"
)

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestGetSettingsDefaults(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/settings", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got session.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, session.Settings{Humor: 0.5, Emotion: "neutral", Roast: false}, got)
}

func TestUpdateSettings(t *testing.T) {
	tests := []struct {
		name string
		body string
		want session.Settings
	}{
		{
			name: "valid update",
			body: `{"humor":0.9,"emotion":"happy","roast":true}`,
			want: session.Settings{Humor: 0.9, Emotion: "happy", Roast: true},
		},
		{
			name: "humor clamped",
			body: `{"humor":5,"emotion":"sad","roast":false}`,
			want: session.Settings{Humor: 1, Emotion: "sad", Roast: false},
		},
		{
			name: "non-numeric humor coerced to default",
			body: `{"humor":"x","emotion":"sad","roast":false}`,
			want: session.Settings{Humor: 0.5, Emotion: "sad", Roast: false},
		},
		{
			name: "empty body falls back to defaults",
			body: `{}`,
			want: session.Settings{Humor: 0.5, Emotion: "neutral", Roast: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestServer(t, nil)

			rec := doJSON(t, s, http.MethodPost, "/settings", tt.body)

			require.Equal(t, http.StatusOK, rec.Code)
			var got settingsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got.Settings)
			assert.Equal(t, tt.want, store.Settings())
		})
	}
}

func TestUpdateSettingsInvalidBody(t *testing.T) {
	s, store := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/settings", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, session.DefaultSettings(), store.Settings())
}

func TestHistoryWindow(t *testing.T) {
	s, store := newTestServer(t, nil)
	for i := 0; i < 15; i++ {
		store.Append(session.NewMessage(session.RoleUser, fmt.Sprintf("msg-%d", i)))
	}

	rec := doJSON(t, s, http.MethodGet, "/history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	// Fixed window of 10, oldest first within the window.
	require.Len(t, got.History, 10)
	assert.Equal(t, "msg-5", got.History[0].Content)
	assert.Equal(t, "msg-14", got.History[9].Content)
}

func TestHistoryEmpty(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got.History)
}

func TestEditMessage(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "valid user message", path: "/history/edit/0", wantStatus: http.StatusOK},
		{name: "assistant message", path: "/history/edit/1", wantStatus: http.StatusBadRequest},
		{name: "out of range", path: "/history/edit/5", wantStatus: http.StatusBadRequest},
		{name: "non-numeric index", path: "/history/edit/abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestServer(t, nil)
			store.Append(session.NewMessage(session.RoleUser, "original"))
			store.Append(session.NewMessage(session.RoleAssistant, "reply"))
			before := store.History(10)

			rec := doJSON(t, s, http.MethodPost, tt.path, `{"content":"edited"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, before, store.History(10))
				return
			}
			assert.Equal(t, "edited", store.History(10)[0].Content)
		})
	}
}

func TestClearHistory(t *testing.T) {
	s, store := newTestServer(t, nil)
	store.Append(session.NewMessage(session.RoleUser, "hello"))
	store.Append(session.NewMessage(session.RoleAssistant, "hi"))

	rec := doJSON(t, s, http.MethodPost, "/history/clear", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, store.Len())

	// Clearing an already-empty log also succeeds.
	rec = doJSON(t, s, http.MethodPost, "/history/clear", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/ready", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}
