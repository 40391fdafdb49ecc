// Package errs defines the typed error taxonomy surfaced by the orchestration engine.
//
// Every error that crosses a component boundary is an *Error carrying a Code.
// Callers test for a kind with errors.Is against the exported sentinels:
//
//	if errors.Is(err, errs.ErrToolNotPermitted) { ... }
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error kind.
type Code string

const (
	CodeAgentNotFound        Code = "agent_not_found"
	CodeSessionBusy          Code = "session_busy"
	CodeProviderUnavailable  Code = "provider_unavailable"
	CodeToolNotPermitted     Code = "tool_not_permitted"
	CodeToolLoopExceeded     Code = "tool_loop_exceeded"
	CodeToolExecutionFailed  Code = "tool_execution_failed"
	CodeRetrievalUnavailable Code = "retrieval_unavailable"
	CodeTimeout              Code = "timeout"
	CodeCancelled            Code = "cancelled"
	CodeInvalidRequest       Code = "invalid_request"
)

// Error is a structured engine error.
type Error struct {
	Code    Code
	Op      string
	Message string
	Details map[string]string
	Err     error
}

// Sentinels for errors.Is matching. Only the Code is compared.
var (
	ErrAgentNotFound        = &Error{Code: CodeAgentNotFound}
	ErrSessionBusy          = &Error{Code: CodeSessionBusy}
	ErrProviderUnavailable  = &Error{Code: CodeProviderUnavailable}
	ErrToolNotPermitted     = &Error{Code: CodeToolNotPermitted}
	ErrToolLoopExceeded     = &Error{Code: CodeToolLoopExceeded}
	ErrToolExecutionFailed  = &Error{Code: CodeToolExecutionFailed}
	ErrRetrievalUnavailable = &Error{Code: CodeRetrievalUnavailable}
	ErrTimeout              = &Error{Code: CodeTimeout}
	ErrCancelled            = &Error{Code: CodeCancelled}
	ErrInvalidRequest       = &Error{Code: CodeInvalidRequest}
)

// New creates an error with a formatted message.
func New(code Code, op string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error. A nil err yields nil.
func Wrap(code Code, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Message: err.Error(), Err: err}
}

// WithDetail returns e with an extra detail key set.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// FromContext converts context errors into Timeout or Cancelled. Other errors are returned unchanged.
func FromContext(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case CodeOf(err) != "":
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Op: op, Message: "deadline exceeded", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Code: CodeCancelled, Op: op, Message: "request cancelled", Err: err}
	}
	return err
}

// UserMessage renders err as a sentence suitable for an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong while processing your request. Please try again."
	}

	switch e.Code {
	case CodeAgentNotFound:
		if id := e.Details["agent_id"]; id != "" && e.Details["inactive"] == "true" {
			return fmt.Sprintf("The agent %q is currently deactivated.", id)
		}
		if id := e.Details["agent_id"]; id != "" {
			return fmt.Sprintf("The agent %q does not exist.", id)
		}
		return "The requested agent does not exist."
	case CodeSessionBusy:
		return "This session is still working on a previous message. Please wait for it to finish."
	case CodeProviderUnavailable:
		return "I'm sorry, I'm experiencing technical difficulties reaching the language models right now. Please try again in a moment."
	case CodeToolNotPermitted:
		if id := e.Details["tool_id"]; id != "" {
			return fmt.Sprintf("The tool %q is not permitted for this agent.", id)
		}
		return "The requested tool is not permitted for this agent."
	case CodeToolLoopExceeded:
		return "The agent kept calling tools without reaching an answer and was stopped."
	case CodeToolExecutionFailed:
		return "A tool failed while handling your request."
	case CodeRetrievalUnavailable:
		return "The knowledge base is unavailable right now."
	case CodeTimeout:
		return "The request took too long and was stopped."
	case CodeCancelled:
		return "The request was cancelled."
	case CodeInvalidRequest:
		if e.Message != "" {
			return "The request was rejected: " + e.Message + "."
		}
		return "The request was rejected."
	}
	return "Something went wrong while processing your request. Please try again."
}
