package models

import (
	"errors"
	"fmt"
)

// Kind classifies a business-rule failure. Kinds are stable and are used by the
// HTTP and gRPC layers to pick a status code.
type Kind string

const (
	KindInvalidAmount     Kind = "invalid_amount"
	KindInvalidTransition Kind = "invalid_transition"
	KindDuplicatePhone    Kind = "duplicate_phone"
	KindRosterFull        Kind = "roster_full"
	KindIncompleteRoster  Kind = "incomplete_roster"
	KindAlreadyEscalated  Kind = "already_escalated"
	KindUnknownArbitrator Kind = "unknown_arbitrator"
	KindCaseClosed        Kind = "case_closed"
	KindNotFound          Kind = "not_found"
	KindInvalidArgument   Kind = "invalid_argument"
	KindArbitratorInUse   Kind = "arbitrator_in_use"
	KindLockNotAcquired   Kind = "lock_not_acquired"
)

// Error is a typed business-rule failure. Message names the invariant that was
// violated, e.g. "roster has only 5 active arbitrators, need 7".
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, models.ErrCaseClosed).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrDuplicatePhone    = &Error{Kind: KindDuplicatePhone}
	ErrRosterFull        = &Error{Kind: KindRosterFull}
	ErrIncompleteRoster  = &Error{Kind: KindIncompleteRoster}
	ErrAlreadyEscalated  = &Error{Kind: KindAlreadyEscalated}
	ErrUnknownArbitrator = &Error{Kind: KindUnknownArbitrator}
	ErrCaseClosed        = &Error{Kind: KindCaseClosed}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrArbitratorInUse   = &Error{Kind: KindArbitratorInUse}
	ErrLockNotAcquired   = &Error{Kind: KindLockNotAcquired}
)

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf reports a missing entity.
func NotFoundf(entity, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// KindOf returns the kind of the first *Error or *InvalidTransitionError in the
// chain, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var te *InvalidTransitionError
	if errors.As(err, &te) {
		return KindInvalidTransition
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the user-facing message of a business error.
func MessageOf(err error) string {
	var te *InvalidTransitionError
	if errors.As(err, &te) {
		return te.Error()
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return ""
}

// InvalidTransitionError reports an event that the refund state machine does not
// accept in the request's current status.
type InvalidTransitionError struct {
	RequestID string
	From      RefundStatus
	Event     Event
}

func (e *InvalidTransitionError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("refund request %s is %s (terminal); %s is not allowed", e.RequestID, e.From, e.Event)
	}
	return fmt.Sprintf("event %s is not allowed for refund request %s in status %s", e.Event, e.RequestID, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindInvalidTransition
}
