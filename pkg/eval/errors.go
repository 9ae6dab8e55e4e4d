package eval

import (
	"errors"
	"fmt"
)

// ErrEval marks scalar expression evaluation failures. These are data
// errors: they belong in the error output of the computation, not in the
// control path.
var ErrEval = errors.New("expression evaluation error")

// NewEvalError creates an evaluation error for the given operator.
func NewEvalError(op, message string) error {
	return fmt.Errorf("%w in %s: %s", ErrEval, op, message)
}

// NewParseError creates an expression parsing error.
func NewParseError(content string, err error) error {
	return fmt.Errorf("failed to parse expression %q: %w", content, err)
}
