package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewFallsBackToRegisteredMessage(t *testing.T) {
	e := New(CodeNotFound, "")
	if e.Message() != "resource not found" {
		t.Fatalf("got %q", e.Message())
	}
	if !strings.Contains(e.Error(), string(CodeNotFound)) {
		t.Fatalf("code missing from rendering: %s", e.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("dial tcp: connection refused")
	e := Wrap(CodeStorageFailure, cause, "load state")

	if !stdErrors.Is(e, cause) {
		t.Fatal("cause must survive the wrap")
	}
	if !strings.Contains(e.Error(), "connection refused") {
		t.Fatalf("cause missing from rendering: %s", e.Error())
	}

	wrapped := fmt.Errorf("request failed: %w", e)
	if CodeOf(wrapped) != CodeStorageFailure {
		t.Fatalf("code lost through further wrapping: %v", CodeOf(wrapped))
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeConflict, "duplicate plugin id")
	b := New(CodeConflict, "other message")
	if !stdErrors.Is(a, b) {
		t.Fatal("same code must match")
	}
	if stdErrors.Is(a, New(CodeNotFound, "")) {
		t.Fatal("different codes must not match")
	}
}

func TestCodeOfForeignError(t *testing.T) {
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("foreign errors map to UNKNOWN")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatal("nil maps to UNKNOWN")
	}
}

func TestShouldAlert(t *testing.T) {
	if !ShouldAlert(New(CodeStorageFailure, "")) {
		t.Fatal("storage failures page")
	}
	if ShouldAlert(New(CodeInvalidArgument, "")) {
		t.Fatal("invalid arguments do not page")
	}
	if ShouldAlert(stdErrors.New("plain")) {
		t.Fatal("foreign errors do not page")
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom failure", Severity: SeverityWarning, Alert: true})

	e := New(code, "")
	if e.Message() != "custom failure" {
		t.Fatalf("got %q", e.Message())
	}
	if e.Severity() != SeverityWarning || !ShouldAlert(e) {
		t.Fatalf("attributes not applied: severity=%s", e.Severity())
	}
}

func TestMetadata(t *testing.T) {
	e := New(CodePluginFault, "configure plugin failed", WithMetadata("plugin", "checkout"))
	md := e.Metadata()
	if md["plugin"] != "checkout" {
		t.Fatalf("got %v", md)
	}
	md["plugin"] = "tampered"
	if e.Metadata()["plugin"] != "checkout" {
		t.Fatal("Metadata must return a copy")
	}
}
