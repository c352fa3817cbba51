package services_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/tachyon-beep/storyteller/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "outline", "generate", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"outline", "generate", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"format", services.Wrap(services.ErrFormat, "json", "process", "bad json", nil), true},
		{"plugin", services.Wrap(services.ErrPlugin, "plugins", "load", "missing", nil), true},
		{"configuration", services.Wrap(services.ErrConfiguration, "", "", "x", nil), true},
		{"processing", services.Wrap(services.ErrProcessing, "outline", "draft", "invalid", nil), false},
		{"transient", errors.New("io"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.IsFatal(tt.err); got != tt.want {
				t.Fatalf("IsFatal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKind(t *testing.T) {
	if got := services.Kind(services.Wrap(services.ErrProcessing, "a", "b", "c", nil)); got != "processing" {
		t.Fatalf("kind = %q", got)
	}
	if got := services.Kind(errors.New("other")); got != "transient" {
		t.Fatalf("kind = %q", got)
	}
	if got := services.Kind(nil); got != "" {
		t.Fatalf("kind = %q", got)
	}
}
