package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "file:"+filepath.Join(dir, "jobs.db"))
	t.Setenv("TOKEN_FILE", filepath.Join(dir, "token.json"))
	t.Setenv("INBOX_DIR", "")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("AI_API_KEY", "")
	t.Setenv("MARKETPLACE_CLIENT_ID", "")
	t.Setenv("MARKETPLACE_CLIENT_SECRET", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mkFolder(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCLI_AddListStats(t *testing.T) {
	dir := setupEnv(t)
	lens := mkFolder(t, dir, "lens")
	flash := mkFolder(t, dir, "flash")

	out, err := execute(t, "add", lens, flash)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if strings.Count(out, "queued ") != 2 {
		t.Errorf("add output = %q", out)
	}

	out, err = execute(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "lens") || !strings.Contains(out, "flash") || !strings.Contains(out, "pending") {
		t.Errorf("list output = %q", out)
	}
	if strings.Index(out, "lens") > strings.Index(out, "flash") {
		t.Errorf("jobs not in creation order: %q", out)
	}

	out, err = execute(t, "list", "--status", "completed")
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if !strings.Contains(out, "No jobs found.") {
		t.Errorf("filtered list = %q", out)
	}

	out, err = execute(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	counts := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		if f := strings.Fields(line); len(f) == 2 {
			counts[f[0]] = f[1]
		}
	}
	if counts["pending"] != "2" || counts["total"] != "2" || counts["completed"] != "0" {
		t.Errorf("stats = %v", counts)
	}
}

func TestCLI_ListRejectsUnknownStatus(t *testing.T) {
	setupEnv(t)
	if _, err := execute(t, "list", "--status", "done"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestCLI_SkipAndClear(t *testing.T) {
	dir := setupEnv(t)
	if _, err := execute(t, "add", mkFolder(t, dir, "lens")); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, err := execute(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	id := jobIDFrom(t, out, "lens")

	if out, err = execute(t, "skip", id); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if !strings.Contains(out, "skipped") {
		t.Errorf("skip output = %q", out)
	}

	// A skipped job cannot be skipped again.
	if _, err := execute(t, "skip", id); err == nil {
		t.Error("second skip should fail")
	}

	out, err = execute(t, "clear")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "1 job(s) removed") {
		t.Errorf("clear output = %q", out)
	}
}

func TestCLI_HoldRelease(t *testing.T) {
	dir := setupEnv(t)
	if _, err := execute(t, "add", mkFolder(t, dir, "lens")); err != nil {
		t.Fatalf("add: %v", err)
	}
	out, _ := execute(t, "list")
	id := jobIDFrom(t, out, "lens")

	if _, err := execute(t, "hold", id); err != nil {
		t.Fatalf("hold: %v", err)
	}
	out, _ = execute(t, "list", "--status", "paused")
	if !strings.Contains(out, id) {
		t.Errorf("held job missing from paused list: %q", out)
	}
	if _, err := execute(t, "release", id); err != nil {
		t.Fatalf("release: %v", err)
	}
	out, _ = execute(t, "list", "--status", "pending")
	if !strings.Contains(out, id) {
		t.Errorf("released job missing from pending list: %q", out)
	}
}

func TestCLI_RunWithoutPipeline(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "run")
	if err == nil || !strings.Contains(err.Error(), "pipeline unavailable") {
		t.Errorf("run error = %v", err)
	}
}

func TestCLI_PriceFromHint(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "price", "Canon", "50mm", "lens", "--hint", "$40")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !strings.Contains(out, "39.99") || !strings.Contains(out, "ai_estimate") {
		t.Errorf("price output = %q", out)
	}
	if !strings.Contains(out, "research") {
		t.Errorf("missing research link: %q", out)
	}
}

func TestCLI_TokenAPI(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "token", "api", "--subject", "tester")
	if err != nil {
		t.Fatalf("token api: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("expected a JWT, got %q", out)
	}
}

func TestCLI_TokenNeedsCredentials(t *testing.T) {
	setupEnv(t)
	for _, sub := range []string{"consent", "refresh"} {
		if _, err := execute(t, "token", sub); err == nil {
			t.Errorf("token %s should fail without credentials", sub)
		}
	}
}

func jobIDFrom(t *testing.T, listing, folder string) string {
	t.Helper()
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 1 && fields[1] == folder {
			return fields[0]
		}
	}
	t.Fatalf("no job for %s in %q", folder, listing)
	return ""
}
