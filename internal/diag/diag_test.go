package diag

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want []string
	}{
		{
			name: "stage only",
			err:  &Error{Stage: StageLower},
			want: []string{`stage "lower" failed`},
		},
		{
			name: "with construct and cause",
			err: &Error{
				Stage:     StageLower,
				Construct: `builtin "nsecs"`,
				Err:       errors.New("boom"),
			},
			want: []string{`stage "lower" failed`, `builtin "nsecs"`, "boom"},
		},
		{
			name: "with hint",
			err: &Error{
				Stage: StageValidate,
				Err:   errors.New("not an ELF"),
				Hint:  "the output file was truncated",
			},
			want: []string{"--- hint ---", "truncated"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, w := range tt.want {
				if !strings.Contains(msg, w) {
					t.Errorf("Error() = %q, missing %q", msg, w)
				}
			}
		})
	}
}

func TestUnwrapAndIsStage(t *testing.T) {
	cause := errors.New("cause")
	err := fmt.Errorf("wrapped: %w", &Error{Stage: StageEmit, Err: cause})

	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through diag.Error")
	}
	if !IsStage(err, StageEmit) {
		t.Error("IsStage(StageEmit) = false, want true")
	}
	if IsStage(err, StageLower) {
		t.Error("IsStage(StageLower) = true, want false")
	}
	if IsStage(errors.New("plain"), StageEmit) {
		t.Error("IsStage on plain error = true, want false")
	}
}
