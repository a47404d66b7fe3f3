package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
work_dir = %q
output_dir = %q
assets_dir = %q
`,
		filepath.Join(dir, "data"),
		filepath.Join(dir, "work"),
		filepath.Join(dir, "output"),
		filepath.Join(dir, "assets"),
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "kurz", "config.toml")

	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected output to mention %s, got %q", target, out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
	if _, err := runCommand(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite init: %v", err)
	}
}

func TestStatusWithEmptyStore(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "--config", cfgPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "No runs yet") {
		t.Fatalf("expected empty-store message, got %q", out)
	}
}

func TestStatusUnknownRun(t *testing.T) {
	cfgPath := writeTestConfig(t)

	if _, err := runCommand(t, "--config", cfgPath, "status", "no-such-run"); err == nil {
		t.Fatal("expected unknown run to error")
	}
}

func TestRunDetachQueuesWithoutProcessing(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "--config", cfgPath, "run", "--detach", "a tiny test video")
	if err != nil {
		t.Fatalf("run --detach: %v", err)
	}
	if !strings.Contains(out, "Run queued") {
		t.Fatalf("expected queue confirmation, got %q", out)
	}

	listing, err := runCommand(t, "--config", cfgPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(listing, "init") {
		t.Fatalf("expected a queued run in init, got %q", listing)
	}
	if !strings.Contains(listing, "a tiny test video") {
		t.Fatalf("expected the prompt in the listing, got %q", listing)
	}
}

func TestCancelUnknownRunFails(t *testing.T) {
	cfgPath := writeTestConfig(t)

	if _, err := runCommand(t, "--config", cfgPath, "cancel", "missing"); err == nil {
		t.Fatal("expected cancel of unknown run to fail")
	}
}
