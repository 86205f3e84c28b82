// Package prompt composes the upstream generation prompt from conversation
// history, the incoming request, and the current generation settings.
//
// Composition is split into three pure steps:
//
//  1. TurnContent builds the user-visible turn from the request. This is the
//     only part of the request that gets committed to history.
//  2. Instruct appends the settings-derived instruction suffix. The suffix is
//     sent upstream but never stored, so re-reading history exposes only
//     genuine conversational turns.
//  3. Compose renders the full history plus the instructed turn into the
//     single prompt string sent upstream.
package prompt

import (
	"fmt"
	"strings"

	"github.com/spindleworks/spindle/internal/session"
)

// Request is one transient generation request. FileText carries the already
// decoded content of an attached text file; ImageName carries the filename of
// an attached image. Attachment decoding happens at the transport boundary,
// not here.
type Request struct {
	Prompt    string
	FileText  string
	ImageName string
}

// Empty reports whether the request carries neither prompt text nor an
// attachment.
func (r Request) Empty() bool {
	return r.Prompt == "" && r.FileText == "" && r.ImageName == ""
}

// TurnContent builds the stored turn content for a request: the raw prompt
// text, followed by delimited blocks for a file attachment's decoded text and
// an image attachment's filename.
func TurnContent(req Request) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if req.FileText != "" {
		fmt.Fprintf(&b, "\n\n[File Content: %s]", req.FileText)
	}
	if req.ImageName != "" {
		fmt.Fprintf(&b, "\n\n[Image Uploaded: %s]", req.ImageName)
	}
	return b.String()
}

// Instruct appends the instruction suffix to a turn. Instruction order:
// optional roast opener, narrative structure, emotion and humor level,
// closing question.
func Instruct(turn string, settings session.Settings) string {
	var b strings.Builder
	b.WriteString(turn)
	b.WriteString("\n\n")
	if settings.Roast {
		b.WriteString("Start with a witty roast before proceeding. ")
	}
	b.WriteString("Write a complete story with a beginning, middle, and end.")
	fmt.Fprintf(&b, " Infuse with %s emotion and humor level %g (0-1 scale).", settings.Emotion, settings.Humor)
	b.WriteString(" End with a natural question like 'Want modifications?'.")
	return b.String()
}

// Compose renders the conversation history followed by a synthetic assistant
// turn carrying the instructed text. Each history entry becomes one
// "ROLE: content" line; insertion order is the conversation order.
//
// The history passed in should already include the current user turn, so the
// instructed text repeats the turn content with its suffix as the final line.
func Compose(history []session.Message, instructed string) string {
	var b strings.Builder
	for _, msg := range history {
		b.WriteString(strings.ToUpper(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("ASSISTANT: ")
	b.WriteString(instructed)
	return b.String()
}
