package deps

import (
	"os"
	"path/filepath"
	"testing"

	"kurz/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
}

func TestRequiredIncludesConfiguredFont(t *testing.T) {
	cfg := config.Default()
	cfg.Render.FontFile = "/usr/share/fonts/test.ttf"

	reqs := Required(&cfg)
	if len(reqs) != 3 {
		t.Fatalf("expected ffmpeg, ffprobe, and font, got %d requirements", len(reqs))
	}
	if !reqs[2].Optional {
		t.Fatal("expected the font requirement to be optional")
	}

	cfg.Render.FontFile = ""
	if got := len(Required(&cfg)); got != 2 {
		t.Fatalf("expected 2 requirements without a font, got %d", got)
	}
}

func TestMissingReportsRequiredOnly(t *testing.T) {
	statuses := []Status{
		{Name: "FFmpeg", Available: false, Detail: `binary "ffmpeg" not found`},
		{Name: "Font", Available: false, Optional: true, Detail: "file not found"},
	}
	err := Missing(statuses)
	if err == nil {
		t.Fatal("expected an error for the missing required binary")
	}
	if got := err.Error(); got != `missing dependencies: FFmpeg (binary "ffmpeg" not found)` {
		t.Fatalf("unexpected message: %s", got)
	}

	statuses[0].Available = true
	if err := Missing(statuses); err != nil {
		t.Fatalf("optional misses must not error, got %v", err)
	}
}
