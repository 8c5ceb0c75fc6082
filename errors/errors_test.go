package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Format(t *testing.T) {
	err := GuestException(PhaseEval, "TypeError", "b is null")
	got := err.Error()
	if !strings.Contains(got, "[eval]") {
		t.Errorf("missing phase: %s", got)
	}
	if !strings.Contains(got, "TypeError") || !strings.Contains(got, "b is null") {
		t.Errorf("missing name/message: %s", got)
	}
}

func TestError_SyntaxKind(t *testing.T) {
	err := GuestException(PhaseEval, "SyntaxError", "unexpected token")
	if err.Kind != KindSyntax {
		t.Errorf("kind = %s, want %s", err.Kind, KindSyntax)
	}
	err = GuestException(PhaseJobs, "RangeError", "too big")
	if err.Kind != KindGuestException {
		t.Errorf("kind = %s, want %s", err.Kind, KindGuestException)
	}
}

func TestError_Is(t *testing.T) {
	err := Registration("fs", fmt.Errorf("boom"))
	if !stderrors.Is(err, &Error{Phase: PhaseModule, Kind: KindRegistration}) {
		t.Error("Is should match on phase+kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseEval, Kind: KindRegistration}) {
		t.Error("Is should not match a different phase")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root")
	err := Engine("load", cause)
	if !stderrors.Is(err, cause) {
		t.Error("Unwrap chain should reach the cause")
	}
}

func TestError_Message(t *testing.T) {
	err := GuestException(PhaseEval, "Error", "Module error")
	if err.Message() != "Module error" {
		t.Errorf("Message = %q", err.Message())
	}

	wrapped := Wrap(PhaseHook, KindHookFailure, fmt.Errorf("inner"), "")
	if wrapped.Message() != "inner" {
		t.Errorf("Message = %q, want cause text", wrapped.Message())
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseMarshal, KindUnmarshallable).
		Path("config", "callback").
		Detail("cannot marshal %s to guest", "func()").
		Build()

	got := err.Error()
	if !strings.Contains(got, "config.callback") {
		t.Errorf("missing path: %s", got)
	}
	if !strings.Contains(got, "cannot marshal func() to guest") {
		t.Errorf("missing detail: %s", got)
	}
}

func TestUnmarshallable(t *testing.T) {
	err := Unmarshallable(nil, "func(int) string")
	if err.Phase != PhaseMarshal || err.Kind != KindUnmarshallable {
		t.Errorf("unexpected phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if !strings.Contains(err.Error(), "func(int) string") {
		t.Errorf("missing type: %s", err.Error())
	}
}
