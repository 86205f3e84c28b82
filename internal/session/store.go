// Package session provides in-memory state for a single story conversation.
// It owns the ordered message log and the process-wide generation settings;
// every other component reads snapshots or mutates through Store methods.
//
// State is process-lifetime only: the log starts empty, is cleared only by an
// explicit Clear, and is never persisted across restarts.
package session

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role values for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Settings defaults and bounds.
const (
	DefaultHumor   = 0.5
	DefaultEmotion = "neutral"

	minHumor = 0.0
	maxHumor = 1.0
)

// ErrInvalidEditTarget is returned when an edit addresses an index that is
// out of range or a message that is not a user message.
var ErrInvalidEditTarget = errors.New("invalid message index or not a user message")

// Message is a single committed conversation turn.
// Messages are immutable once appended, with one exception: a user message's
// Content may be replaced through EditUserMessage. Role and Timestamp never
// change after commit.
type Message struct {
	// ID is a stable identifier assigned at append time.
	ID string `json:"id"`

	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the turn content: the user-visible text, without any
	// instruction suffix added for the upstream call.
	Content string `json:"content"`

	// Timestamp is the commit time in RFC 3339 (ISO-8601) form.
	Timestamp string `json:"timestamp"`
}

// Settings holds the process-wide story generation settings.
type Settings struct {
	// Humor is the humor level on a 0-1 scale.
	Humor float64 `json:"humor"`

	// Emotion is the emotional tone to infuse into the story.
	Emotion string `json:"emotion"`

	// Roast controls whether the story opens with a witty roast.
	Roast bool `json:"roast"`
}

// DefaultSettings returns the settings applied at startup.
func DefaultSettings() Settings {
	return Settings{Humor: DefaultHumor, Emotion: DefaultEmotion, Roast: false}
}

// SettingsPatch carries a settings update as received from the client.
// Humor and Roast are untyped because the update operation coerces invalid
// values back to defaults instead of rejecting the request.
type SettingsPatch struct {
	Humor   any    `json:"humor"`
	Emotion string `json:"emotion"`
	Roast   any    `json:"roast"`
}

// Store owns the conversation log and generation settings.
// All methods are safe for concurrent use. Mutations from the session API are
// allowed while a generation is streaming; the store only guarantees
// per-operation consistency, not cross-request isolation.
type Store struct {
	mu          sync.Mutex
	messages    []Message
	settings    Settings
	maxMessages int
}

// NewStore creates an empty store with default settings.
// maxMessages bounds the log: when an append would exceed it, the oldest
// messages are dropped. A value <= 0 means unbounded.
func NewStore(maxMessages int) *Store {
	return &Store{
		settings:    DefaultSettings(),
		maxMessages: maxMessages,
	}
}

// NewMessage builds a message with a fresh ID and the current UTC timestamp.
func NewMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Append commits a message to the end of the log.
func (s *Store) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	s.trimLocked()
}

// History returns the most recent limit messages in original order.
// A limit <= 0 returns an empty slice. The returned slice is a copy.
func (s *Store) History(limit int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return []Message{}
	}
	start := len(s.messages) - limit
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), s.messages[start:]...)
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// EditUserMessage replaces the content of the user message at index.
// The index addresses the full log, oldest first. Returns
// ErrInvalidEditTarget without mutating anything when the index is out of
// range or the message is not a user message. Timestamp and role are
// preserved on success.
func (s *Store) EditUserMessage(index int, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.messages) {
		return ErrInvalidEditTarget
	}
	if s.messages[index].Role != RoleUser {
		return ErrInvalidEditTarget
	}

	s.messages[index].Content = content
	return nil
}

// Clear resets the log to empty. Settings are not affected.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Settings returns the current generation settings.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings applies a patch and returns the resulting settings.
// Invalid values are coerced rather than rejected: humor is parsed and
// clamped to [0, 1] with 0.5 as the fallback, an empty emotion becomes
// "neutral", and roast follows truthiness of the supplied value.
func (s *Store) UpdateSettings(patch SettingsPatch) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = Settings{
		Humor:   coerceHumor(patch.Humor),
		Emotion: coerceEmotion(patch.Emotion),
		Roast:   coerceRoast(patch.Roast),
	}
	return s.settings
}

// trimLocked drops the oldest messages when the log exceeds the configured
// bound. Must be called with the mutex held.
func (s *Store) trimLocked() {
	if s.maxMessages <= 0 || len(s.messages) <= s.maxMessages {
		return
	}
	excess := len(s.messages) - s.maxMessages
	s.messages = append([]Message(nil), s.messages[excess:]...)
}

// coerceHumor parses an arbitrary JSON value into a clamped humor level.
// Numbers are clamped to [0, 1]; numeric strings are parsed then clamped;
// anything else falls back to the default.
func coerceHumor(v any) float64 {
	var humor float64
	switch val := v.(type) {
	case float64:
		humor = val
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return DefaultHumor
		}
		humor = parsed
	default:
		return DefaultHumor
	}

	if humor < minHumor {
		return minHumor
	}
	if humor > maxHumor {
		return maxHumor
	}
	return humor
}

func coerceEmotion(v string) string {
	if v == "" {
		return DefaultEmotion
	}
	return v
}

// coerceRoast follows JavaScript-style truthiness so that clients sending
// non-boolean values get a usable setting instead of an error.
func coerceRoast(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	case float64:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}
