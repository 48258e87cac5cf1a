package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Kind classifies an error for the caller. Workflow errors are reported, never retried.
type Kind string

const (
	KindInternal               Kind = "Internal"
	KindValidation             Kind = "ValidationError"
	KindNotFound               Kind = "NotFound"
	KindConflict               Kind = "Conflict"
	KindRateLimited            Kind = "RateLimited"
	KindInvalidTransition      Kind = "InvalidTransition"
	KindTerminalStateViolation Kind = "TerminalStateViolation"
	KindTeamUnavailable        Kind = "TeamUnavailable"
	KindInsufficientStock      Kind = "InsufficientStock"
	KindAlreadyReviewed        Kind = "AlreadyReviewed"
	KindInvalidReason          Kind = "InvalidReason"
	KindUnauthorized           Kind = "Unauthorized"
)

// Sentinels for errors.Is checks. Only the Kind is compared.
var (
	ErrValidation             = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict               = &Error{Kind: KindConflict, Message: "conflict"}
	ErrRateLimited            = &Error{Kind: KindRateLimited, Message: "rate limited"}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrTerminalStateViolation = &Error{Kind: KindTerminalStateViolation, Message: "terminal state"}
	ErrTeamUnavailable        = &Error{Kind: KindTeamUnavailable, Message: "team unavailable"}
	ErrInsufficientStock      = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrAlreadyReviewed        = &Error{Kind: KindAlreadyReviewed, Message: "already reviewed"}
	ErrInvalidReason          = &Error{Kind: KindInvalidReason, Message: "invalid reason"}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
)

// Error represents a custom error with stack trace
type Error struct {
	Code    int        `json:"code"`
	Kind    Kind       `json:"kind"`
	Message string     `json:"message"`
	Fields  []KeyValue `json:"fields,omitempty"`
	Err     error      `json:"-"`
	Stack   string     `json:"stack,omitempty"`
	Context []KeyValue `json:"context,omitempty"`
}

// KeyValue represents a key-value pair for context
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the errors.Wrapper interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Code:    StatusOf(kind),
		Kind:    kind,
		Message: message,
		Stack:   captureStack(),
	}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithCode creates a new error with an explicit HTTP code
func WithCode(code int, message string) *Error {
	return &Error{
		Code:    code,
		Kind:    KindInternal,
		Message: message,
		Stack:   captureStack(),
	}
}

// Wrap wraps an error with message. Kind is inherited from err when it carries one.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	return &Error{
		Code:    StatusOf(kind),
		Kind:    kind,
		Message: message,
		Err:     err,
		Stack:   captureStack(),
	}
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Validation builds a ValidationError carrying field-level messages.
func Validation(fields map[string]string) *Error {
	e := New(KindValidation, "validation failed")
	for k, v := range fields {
		e.Fields = append(e.Fields, KeyValue{Key: k, Value: v})
	}
	return e
}

// InvalidTransition reports a rejected state change.
func InvalidTransition(entity, from, to string) *Error {
	return Newf(KindInvalidTransition, "%s cannot move from %s to %s", entity, from, to).
		WithContexts(map[string]string{"from": from, "to": to})
}

// TerminalState reports a transition attempt out of a terminal state.
func TerminalState(entity, state string) *Error {
	return Newf(KindTerminalStateViolation, "%s is in terminal state %s", entity, state).
		WithContext("state", state)
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return Newf(KindNotFound, "%s %s not found", entity, id).WithContext("id", id)
}

// WithContext adds context to an error
func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}
	newErr := e.clone()
	newErr.Context = append(newErr.Context, KeyValue{Key: key, Value: value})
	return newErr
}

// WithContexts adds multiple contexts to an error
func (e *Error) WithContexts(kv map[string]string) *Error {
	if e == nil || len(kv) == 0 {
		return e
	}
	newErr := e.clone()
	for k, v := range kv {
		newErr.Context = append(newErr.Context, KeyValue{Key: k, Value: v})
	}
	return newErr
}

func (e *Error) clone() *Error {
	c := *e
	c.Context = make([]KeyValue, len(e.Context))
	copy(c.Context, e.Context)
	return &c
}

// ContextValue returns the first context value stored under key.
func (e *Error) ContextValue(key string) string {
	for _, kv := range e.Context {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// StatusOf maps a Kind to the HTTP status returned to callers.
func StatusOf(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidReason, KindInvalidTransition, KindTerminalStateViolation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTeamUnavailable, KindInsufficientStock, KindAlreadyReviewed, KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the Kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindInternal
}

// As is re-exported so callers need a single errors import.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is is re-exported so callers need a single errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// captureStack captures the current stack trace
func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	lines := strings.Split(stack, "\n")
	if len(lines) > 6 {
		stack = strings.Join(lines[6:], "\n")
	}

	return strings.TrimSpace(stack)
}

// GetMessage returns the error message
func GetMessage(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Format implements fmt.Formatter
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
