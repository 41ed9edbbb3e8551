// Package diag provides structured, stage-attributed error types for the
// tracegen pipeline. Every failure includes the stage that produced it;
// many also carry an actionable hint.
package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies which pipeline step produced an error.
type Stage string

const (
	StageInput    Stage = "input"
	StageExpand   Stage = "wildcard-expand"
	StageLower    Stage = "lower"
	StageEmit     Stage = "object-emit"
	StageValidate Stage = "object-validate"
)

// Error is a structured pipeline error carrying stage context, the
// offending construct when known, and a user-facing hint for remediation.
type Error struct {
	Stage     Stage
	Construct string
	Hint      string
	Err       error
}

// Error formats the diagnostic into a multi-section string.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %q failed", e.Stage)
	if e.Construct != "" {
		fmt.Fprintf(&b, ": %s", e.Construct)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Hint != "" {
		b.WriteString("\n--- hint ---\n")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsStage reports whether err is a diag.Error from the given pipeline stage.
func IsStage(err error, stage Stage) bool {
	var derr *Error
	if !errors.As(err, &derr) {
		return false
	}
	return derr.Stage == stage
}
