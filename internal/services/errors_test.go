package services_test

import (
	"errors"
	"testing"

	"kurz/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("connection refused")
	err := services.Wrap(services.ErrProvider, "assets", "generate image", "image provider unavailable", cause)

	if !errors.Is(err, services.ErrProvider) {
		t.Fatal("expected provider marker")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to remain in chain")
	}
	if got := services.Kind(err); got != "provider" {
		t.Fatalf("Kind = %q, want provider", got)
	}
	if got := services.Message(err); got != "assets: generate image: image provider unavailable: connection refused" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"validation", services.Wrap(services.ErrValidation, "plan", "check manifest", "missing scenes", nil), false},
		{"configuration", services.Wrap(services.ErrConfiguration, "", "", "no api key", nil), false},
		{"render", services.Wrap(services.ErrRender, "render", "encode scene", "ffmpeg exited 1", nil), false},
		{"cancelled", services.Wrap(services.ErrCancelled, "", "", "user cancelled", nil), false},
		{"provider", services.Wrap(services.ErrProvider, "assets", "generate", "timeout", nil), true},
		{"transient", services.Wrap(services.ErrTransient, "", "", "blip", nil), true},
		{"unclassified", errors.New("mystery"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.IsRetryable(tc.err); got != tc.retryable {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.retryable)
			}
		})
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "something odd", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("nil marker should default to transient")
	}
}
