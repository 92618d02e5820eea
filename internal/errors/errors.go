package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeAborted            = Code(codes.Aborted)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeFailedPrecondition: http.StatusConflict,
	CodeAborted:            http.StatusConflict,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Reason distinguishes domain failures that share a status code,
// e.g. NoPlayers and InvalidTransition are both failed preconditions.
type Reason string

const (
	ReasonNotAuthorized       Reason = "NOT_AUTHORIZED"
	ReasonInvalidTransition   Reason = "INVALID_TRANSITION"
	ReasonDuplicateAnswer     Reason = "DUPLICATE_ANSWER"
	ReasonNoPlayers           Reason = "NO_PLAYERS"
	ReasonNotFound            Reason = "NOT_FOUND"
	ReasonChannelUnavailable  Reason = "CHANNEL_UNAVAILABLE"
	ReasonPersistenceConflict Reason = "PERSISTENCE_CONFLICT"
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

// NotAuthorized: a non-host actor attempted a host-only operation.
func NotAuthorized(opts ...Option) *Error {
	return newReason(CodePermissionDenied, ReasonNotAuthorized, opts...)
}

// InvalidTransition: the session's current status does not permit the requested transition.
func InvalidTransition(opts ...Option) *Error {
	return newReason(CodeFailedPrecondition, ReasonInvalidTransition, opts...)
}

// DuplicateAnswer: the player already answered this question.
func DuplicateAnswer(opts ...Option) *Error {
	return newReason(CodeAlreadyExists, ReasonDuplicateAnswer, opts...)
}

// NoPlayers: the roster is empty at start time and solo play was not forced.
func NoPlayers(opts ...Option) *Error {
	return newReason(CodeFailedPrecondition, ReasonNoPlayers, opts...)
}

// NotFound: unknown room code, session, player or question.
func NotFound(opts ...Option) *Error {
	return newReason(CodeNotFound, ReasonNotFound, opts...)
}

// ChannelUnavailable: transient transport failure. Retried with backoff,
// only surfaced after retries are exhausted.
func ChannelUnavailable(opts ...Option) *Error {
	return newReason(CodeUnavailable, ReasonChannelUnavailable, opts...)
}

// PersistenceConflict: a conditional write lost a race. The caller must
// re-read and retry, never blindly overwrite.
func PersistenceConflict(opts ...Option) *Error {
	return newReason(CodeAborted, ReasonPersistenceConflict, opts...)
}

func newReason(code Code, r Reason, opts ...Option) *Error {
	e := New(code, opts...)
	e.Reason = r
	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s = fmt.Sprintf("code: %d, reason: %s, message: %s", e.Code, e.Reason, e.Message)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// Is reports whether err carries the given domain reason.
func Is(err error, r Reason) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Reason == r
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
