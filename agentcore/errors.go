package agentcore

import (
	"errors"
	"fmt"
)

// TokenLimitError reports that a model invocation failed because the
// context/token budget was exceeded. The engine recovers from this kind
// locally by force-finishing the run instead of propagating it.
type TokenLimitError struct {
	Err error
}

func (e *TokenLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token limit exceeded: %v", e.Err)
	}
	return "token limit exceeded"
}

func (e *TokenLimitError) Unwrap() error { return e.Err }

// IsTokenLimit reports whether err is, or wraps, a TokenLimitError.
func IsTokenLimit(err error) bool {
	var tle *TokenLimitError
	return errors.As(err, &tle)
}

// DispatchError reports a tool-dispatch protocol violation, such as an empty
// call batch under the required tool-choice policy. Dispatch errors are
// surfaced as step results, never propagated out of a run.
type DispatchError struct {
	Reason string
}

func (e *DispatchError) Error() string { return e.Reason }
