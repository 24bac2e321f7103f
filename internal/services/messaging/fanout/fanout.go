// Package fanout delivers best-effort notification events to an external
// sink, one call per target user. Delivery failures are reported to the
// caller for logging and never block message persistence.
package fanout

import (
	"context"
	"strings"
	"unicode/utf8"
)

// previewRunes caps the message text carried inside a new-message event.
const previewRunes = 80

// Event is one user-targeted notification payload.
type Event interface {
	// Kind names the event variant on the wire.
	Kind() string
	// Target is the user the event is addressed to.
	Target() string
}

// NewMessage announces a freshly persisted message to one recipient.
type NewMessage struct {
	ActorID        string
	TargetID       string
	ConversationID string
	GroupName      string
	ContentPreview string
	IsGroup        bool
}

// Kind implements Event.
func (NewMessage) Kind() string { return "new_message" }

// Target implements Event.
func (e NewMessage) Target() string { return e.TargetID }

// GroupCreated announces a new group conversation to one initial member.
type GroupCreated struct {
	ActorID        string
	TargetID       string
	ConversationID string
	GroupName      string
}

// Kind implements Event.
func (GroupCreated) Kind() string { return "group_created" }

// Target implements Event.
func (e GroupCreated) Target() string { return e.TargetID }

// GroupInvite announces that a user was added to an existing group.
type GroupInvite struct {
	ActorID        string
	TargetID       string
	ConversationID string
	GroupName      string
}

// Kind implements Event.
func (GroupInvite) Kind() string { return "group_invite" }

// Target implements Event.
func (e GroupInvite) Target() string { return e.TargetID }

// Notifier delivers one event to its target.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Preview clips message text to the fan-out rune budget, appending an
// ellipsis when anything was cut. Media-only messages yield an empty preview.
func Preview(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes]) + "…"
}
