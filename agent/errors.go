package agent

import "errors"

// Tool-level errors. They are reported to the model as error results and
// never stop the loop.
var (
	ErrUnknownTool             = errors.New("unknown tool")
	ErrInvalidArguments        = errors.New("invalid arguments")
	ErrDelegationDepthExceeded = errors.New("delegation depth exceeded")
	ErrToolAlreadyRegistered   = errors.New("tool already registered")
)

// Invocation-level errors. They abort the run; partial state is still saved.
var (
	ErrModelUnavailable      = errors.New("model unavailable")
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrEmptyQuery     = errors.New("query must not be empty")
)
