package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSplitAssignment(t *testing.T) {
	tests := []struct {
		in                   string
		hole, feature, value string
		wantErr              bool
	}{
		{"H1:Inner=4.02", "H1", "Inner", "4.02", false},
		{" 3 : outer = 9.1 ", "3", "outer", "9.1", false},
		{"H2:Inner=", "H2", "Inner", "", false},
		{"H2=4.0", "", "", "", true},
		{"H2:Inner", "", "", "", true},
		{":Inner=4", "", "", "", true},
	}
	for _, tc := range tests {
		hole, feature, value, err := splitAssignment(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("splitAssignment(%q) err = %v", tc.in, err)
		}
		if !tc.wantErr && (hole != tc.hole || feature != tc.feature || value != tc.value) {
			t.Fatalf("splitAssignment(%q) = %q %q %q", tc.in, hole, feature, value)
		}
	}
}

func TestParseDay(t *testing.T) {
	got, err := parseDay("2024-03-05", time.UTC)
	if err != nil || !got.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("parseDay = %v, %v", got, err)
	}
	if z, err := parseDay(" ", time.UTC); err != nil || !z.IsZero() {
		t.Fatal("empty date should be the zero time")
	}
	if _, err := parseDay("05/03/2024", time.UTC); err == nil {
		t.Fatal("expected an error for a non-ISO date")
	}
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	for _, key := range []string{"SLACK_BOT_TOKEN", "QCLOG_ALERT_CHANNEL_ID", "LLM_PROVIDER", "QCLOG_DIGEST_SCHEDULE", "QCLOG_INGEST_WRITE_MODE"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	cfg := strings.Join([]string{
		"workbook_path: " + filepath.Join(dir, "qc.xlsx"),
		"image_dir: " + filepath.Join(dir, "images"),
		"report_output_dir: " + filepath.Join(dir, "reports"),
		"journal_db_path: " + filepath.Join(dir, "journal.db"),
		"log_mode: prod",
		"write_retry_delay_ms: 1",
		"timezone: UTC",
		"",
	}, "\n")
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dir
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	out, err := run(t, cfgPath, args...)
	if err != nil {
		t.Fatalf("qclog %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func expect(t *testing.T, out string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(out, w) {
			t.Fatalf("output missing %q:\n%s", w, out)
		}
	}
}

func TestCommandsEndToEnd(t *testing.T) {
	cfg, dir := writeConfig(t)

	expect(t, mustRun(t, cfg, "init"), "Workbook created:")
	expect(t, mustRun(t, cfg, "init"), "Workbook ready:")

	out := mustRun(t, cfg, "add", "--part", "mi", "--machine", "SA01", "--chamber", "A", "--piece", "P-1",
		"H1:Inner=4.02", "H1:Outer=9.8", "H2:Inner=abc", "H3:Inner=-")
	expect(t, out, "Saved 2 measurement(s) for piece P-1", "warning:", "H1 Outer 9.8 FAIL", "H1 Inner 4.02 PASS")

	expect(t, mustRun(t, cfg, "list", "--part", "mixing block"), "P-1", "FAIL", "SA01")
	if out, err := run(t, cfg, "add", "--part", "mi", "--machine", "SA99", "--piece", "P-2", "H1:Inner=4.0"); err == nil || !strings.Contains(out, `Unknown machine "SA99"`) {
		t.Fatalf("unlisted machine must be rejected: %v\n%s", err, out)
	}

	expect(t, mustRun(t, cfg, "trend", "--part", "mi", "--hole", "1", "--feature", "inner"),
		"Mixing Block H1 Inner", "points: 1", "trend: Stable")
	expect(t, mustRun(t, cfg, "trend", "--part", "mi", "--machine", "SA02"),
		"No readings match.", "machines on record: SA01", "chambers on record: A", "holes with specs: H1 (Inner, Outer), H2 (Inner, Outer)")

	expect(t, mustRun(t, cfg, "edit", "--part", "mi", "--row", "1", "--set", "notes=remeasured"), "Updated row 0.")
	if _, err := run(t, cfg, "edit", "--part", "mi", "--row", "1", "--set", "value=wide"); err == nil {
		t.Fatal("a non-numeric value edit must fail")
	}

	expect(t, mustRun(t, cfg, "delete", "--part", "mi", "--rows", "2"), "Deleted 1 row(s) from Mixing Block.")
	if out, err := run(t, cfg, "delete", "--part", "mi", "--rows", "7-9"); err == nil || !strings.Contains(out, "valid rows are 1-1") {
		t.Fatalf("out-of-range delete should fail with a hint: %v\n%s", err, out)
	}

	expect(t, mustRun(t, cfg, "history"), "Writes", "Batches", "P-1", "delete", "edit")

	expect(t, mustRun(t, cfg, "specs", "--part", "gw"), "Part Type,Hole,Feature", "Gas/Water Block,H5,Inner,6.1,5.6,6.6")

	expect(t, mustRun(t, cfg, "export-trends"), "Wrote 3 sheet(s)")
	if _, err := os.Stat(filepath.Join(dir, "reports", "trendchart.xlsx")); err != nil {
		t.Fatalf("trend workbook not written: %v", err)
	}

	expect(t, mustRun(t, cfg, "digest"), "1 series analysed", "Digest written to")
}

func TestAddRequiresPart(t *testing.T) {
	cfg, _ := writeConfig(t)
	if _, err := run(t, cfg, "add", "--piece", "P", "H1:Inner=4"); err == nil {
		t.Fatal("add without --part must fail")
	}
	if out, err := run(t, cfg, "add", "--part", "mi", "H1:Inner=4"); err == nil || !strings.Contains(out, "Piece ID is required.") {
		t.Fatalf("add without a piece ID must fail: %v\n%s", err, out)
	}
}
