// Package action defines the contract between the dispatch core and the action
// handlers: the decoded message, the handler context, the response envelope and
// the failure taxonomy.
package action

import (
	"context"
	"fmt"
)

// Context carries side-channel settings shared by every handler call. It is
// built once at server start and never mutated.
type Context struct {
	// OutputDir is where handlers write artifacts such as screenshots.
	OutputDir string
}

// Handler executes one action.
//
// A handler returns either a result payload or an error. Returning a *Failure
// selects the error code reported to the client; any other error is reported as
// an execution error. Handlers may block; ctx is cancelled when a handler
// timeout is configured and expires.
type Handler interface {
	Handle(ctx context.Context, msg Message, hctx *Context) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message, hctx *Context) (interface{}, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message, hctx *Context) (interface{}, error) {
	return f(ctx, msg, hctx)
}

// Failure is a handler-reported failure with its own error code.
type Failure struct {
	Code    string
	Details interface{}
}

func (f *Failure) Error() string {
	if f.Details == nil {
		return f.Code
	}
	return fmt.Sprintf("%s: %v", f.Code, f.Details)
}

// Fail returns a *Failure with the given code and details.
func Fail(code string, details interface{}) *Failure {
	return &Failure{Code: code, Details: details}
}

// InvalidParams returns an invalid_params failure with a formatted description.
func InvalidParams(format string, args ...interface{}) *Failure {
	return &Failure{Code: CodeInvalidParams, Details: fmt.Sprintf(format, args...)}
}

// Response converts the failure into an error envelope.
func (f *Failure) Response() *Response {
	return Err(f.Code, f.Details)
}
