package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway error for propagation decisions.
type Kind string

const (
	KindNotFound     Kind = "NotFound"
	KindConflict     Kind = "Conflict"
	KindUnauthorized Kind = "Unauthorized"
	KindBlocked      Kind = "Blocked"
	KindTimeout      Kind = "Timeout"
	KindInternal     Kind = "Internal"
)

// Error is a typed gateway error. Reason is a short machine-readable code
// (e.g. "channel_not_found", "already_friends") surfaced to clients.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and Reason, so sentinel values below can be
// used with errors.Is even after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Reason == e.Reason
}

func New(kind Kind, reason string) *Error { return &Error{Kind: kind, Reason: reason} }

// Wrap attaches kind/reason to an underlying error.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Internal wraps a persistence or other unexpected failure.
func Internal(err error) *Error { return Wrap(KindInternal, "internal", err) }

// KindOf returns the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the client-facing reason code for err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "internal"
}

// Recoverable reports whether err should be reported to the originating session
// without affecting the connection.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindConflict, KindUnauthorized, KindBlocked:
		return true
	}
	return false
}

// Sentinels. Compare with errors.Is.
var (
	ErrChannelNotFound   = New(KindNotFound, "channel_not_found")
	ErrSenderNotFound    = New(KindNotFound, "sender_not_found")
	ErrCharacterNotFound = New(KindNotFound, "character_not_found")
	ErrRequestNotFound   = New(KindNotFound, "request_not_found")
	ErrEntryNotFound     = New(KindNotFound, "blacklist_entry_not_found")
	ErrNotFriends        = New(KindNotFound, "not_friends")

	ErrAlreadyFriends   = New(KindConflict, "already_friends")
	ErrAlreadyPending   = New(KindConflict, "already_pending")
	ErrAlreadyBlocked   = New(KindConflict, "already_blocked")
	ErrAlreadyResolved  = New(KindConflict, "request_already_resolved")
	ErrSelfRelation     = New(KindConflict, "self_relation")
	ErrDuplicateChannel = New(KindConflict, "duplicate_channel")
	ErrDuplicateMember  = New(KindConflict, "duplicate_membership")
	ErrRateLimited      = New(KindConflict, "rate_limited")
	ErrInvalidFrame     = New(KindConflict, "invalid_frame")
	ErrReplayed         = New(KindConflict, "replayed")
	ErrNameTaken        = New(KindConflict, "name_taken")
	ErrInvalidName      = New(KindConflict, "invalid_name")
	ErrMessageTooLong   = New(KindConflict, "message_too_long")

	ErrUnauthorized = New(KindUnauthorized, "unauthorized")
	ErrNotMember    = New(KindUnauthorized, "not_member")

	ErrBlocked  = New(KindBlocked, "blocked")
	ErrFiltered = New(KindBlocked, "filtered")

	ErrSinkTimeout = New(KindTimeout, "sink_timeout")
)
