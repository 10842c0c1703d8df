package main

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"f1sync/internal/config"
)

const scheduleJSON = `{
  "season": 2026,
  "races": [
    {"round": 1, "grandPrixName": "Australian Grand Prix", "circuitName": "Albert Park Circuit",
     "city": "Melbourne", "country": "Australia", "date": "2026-03-08", "time": "04:00:00",
     "timezoneId": "Australia/Melbourne", "weekendStartDate": "2026-03-06", "weekendEndDate": "2026-03-08"},
    {"round": 2, "grandPrixName": "Chinese Grand Prix", "circuitName": "Shanghai International Circuit",
     "city": "Shanghai", "country": "China", "date": "2026-03-15", "time": "07:00:00",
     "timezoneId": "Asia/Shanghai", "isSprintWeekend": true,
     "weekendStartDate": "2026-03-13", "weekendEndDate": "2026-03-15"}
  ]
}`

// setup writes a schedule file and returns the base args pointing at it and
// a fresh config path.
func setup(t *testing.T) (string, []string) {
	t.Helper()
	t.Setenv(config.EnvClientID, "")
	t.Setenv(config.EnvLogLevel, "")

	dir := t.TempDir()
	src := filepath.Join(dir, "schedule.json")
	if err := os.WriteFile(src, []byte(scheduleJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, []string{"--config", filepath.Join(dir, "f1sync.yaml"), "--source", src, "--log-level", "error"}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestListCommand(t *testing.T) {
	_, base := setup(t)
	out, err := run(t, append(base, "list", "--tz", "UTC")...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("list output:\n%s", out)
	}
	if !strings.HasPrefix(lines[0], "RND") || !strings.Contains(lines[0], "UTC") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Australian Grand Prix") || !strings.Contains(lines[1], "Mar 6 - 8") ||
		!strings.Contains(lines[1], "3:00 PM") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "sprint") {
		t.Errorf("row 2 = %q", lines[2])
	}
	// Columns line up.
	if strings.Index(lines[1], "Mar 6") != strings.Index(lines[2], "Mar 13") {
		t.Errorf("misaligned columns:\n%s", out)
	}
}

func TestExportCommand(t *testing.T) {
	dir, base := setup(t)
	outDir := filepath.Join(dir, "out")

	out, err := run(t, append(base, "export", "--out", outDir, "2")...)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := filepath.Join(outDir, "f1-round-2-Shanghai.ics")
	if strings.TrimSpace(out) != want {
		t.Fatalf("export printed %q, want %q", out, want)
	}
	body, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(body), "DTSTART:20260315T070000Z\r\n") {
		t.Fatalf("unexpected file:\n%s", body)
	}

	out, err = run(t, append(base, "export", "--out", outDir)...)
	if err != nil {
		t.Fatalf("export all: %v", err)
	}
	if n := len(strings.Fields(out)); n != 2 {
		t.Fatalf("export all wrote %d files", n)
	}

	out, err = run(t, append(base, "export", "--out", outDir, "--season")...)
	if err != nil {
		t.Fatalf("export season: %v", err)
	}
	if filepath.Base(strings.TrimSpace(out)) != "f1-2026-full-season.ics" {
		t.Fatalf("season file = %q", out)
	}
}

func TestExportRejectsBadRounds(t *testing.T) {
	_, base := setup(t)

	_, err := run(t, append(base, "export", "first")...)
	var ue *usageError
	if !errors.As(err, &ue) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if _, err := run(t, append(base, "export", "9")...); err == nil || !strings.Contains(err.Error(), "round 9") {
		t.Fatalf("missing round: %v", err)
	}
	if _, err := run(t, append(base, "export", "--season", "1")...); !errors.As(err, &ue) {
		t.Fatalf("--season with rounds: %v", err)
	}
}

func TestLinkCommand(t *testing.T) {
	_, base := setup(t)
	out, err := run(t, append(base, "link", "1")...)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	u, err := url.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	q := u.Query()
	if q.Get("dates") != "20260308T040000Z/20260308T060000Z" || q.Get("location") != "Albert Park Circuit, Melbourne, Australia" {
		t.Fatalf("link = %s", u)
	}
}

func TestSyncNeedsClientID(t *testing.T) {
	_, base := setup(t)
	_, err := run(t, append(base, "sync")...)
	if !errors.Is(err, config.ErrMissingClientID) {
		t.Fatalf("expected ErrMissingClientID, got %v", err)
	}
}

func TestConfigCreatedOnFirstRun(t *testing.T) {
	dir, base := setup(t)
	if _, err := run(t, append(base, "list")...); err != nil {
		t.Fatalf("list: %v", err)
	}
	cfg, err := config.Load(filepath.Join(dir, "f1sync.yaml"))
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.Season != 2026 || cfg.Google.CalendarID != "primary" {
		t.Fatalf("config = %+v", cfg)
	}
}
