package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const rawCSV = `datetime,weight_kg,raw_reading
2021-03-01 08:00:00,14000,N 14000
2021-03-01 08:02:00,14001,N 14001
2021-03-01 08:04:00,14002,N 14002
2021-03-01 08:06:00,999998,E+999998.
2021-03-01 08:08:00,14004,N 14004
2021-03-01 08:12:00,14006,N 14006
2021-03-01 08:14:00,14007,N 14007
2021-03-01 08:16:00,14008,N 14008
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, exitUsage},
		{[]string{"forecast"}, exitUsage},
		{[]string{"help"}, exitOK},
		{[]string{"process"}, exitUsage},
		{[]string{"process", "-h"}, exitOK},
		{[]string{"process", "-f", "a.csv", "extra"}, exitUsage},
		{[]string{"plot", "-unknown"}, exitUsage},
		{[]string{"log", "-m", "7"}, exitUsage},
	}
	for _, tt := range tests {
		var stdout, stderr bytes.Buffer
		if got := run(tt.args, &stdout, &stderr); got != tt.want {
			t.Errorf("run(%v): expected %d, got %d\n%s", tt.args, tt.want, got, stderr.String())
		}
	}
}

func TestProcess(t *testing.T) {
	in := writeFile(t, "loadcells.csv", rawCSV)
	dir := filepath.Dir(in)
	report := filepath.Join(dir, "report.json")
	metrics := filepath.Join(dir, "flintec.prom")

	var stdout, stderr bytes.Buffer
	code := run([]string{"process", "-f", in, "-s", "1", "-n", "2", "-w", "50",
		"-report", report, "-metrics-file", metrics, "-log-level", "error"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("Expected exit 0, got %d\n%s", code, stderr.String())
	}

	out, err := os.ReadFile(filepath.Join(dir, "loadcells_processed.csv"))
	if err != nil {
		t.Fatalf("Expected default output file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 10 {
		t.Errorf("Expected 10 lines, got %d", len(lines))
	}
	if strings.Contains(string(out), "NaN") {
		t.Errorf("Expected every value to be estimated:\n%s", out)
	}

	buf, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("Expected report file: %v", err)
	}
	var summary RunSummary
	if err := json.Unmarshal(buf, &summary); err != nil {
		t.Fatalf("Invalid report: %v", err)
	}
	if summary.InputLen != 8 || summary.OutputLen != 9 || summary.Inserted != 1 || summary.Filled != 2 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if summary.Masked["error_code"] != 1 || summary.RunID == "" {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if l := summary.Load; l == nil || l.Min < 14000 || l.Max > 14008 || l.Mean < l.Min || l.Mean > l.Max || l.Std <= 0 {
		t.Errorf("Unexpected load statistics %+v", summary.Load)
	}

	if _, err := os.Stat(metrics); err != nil {
		t.Errorf("Expected metrics file: %v", err)
	}
	if !strings.Contains(stdout.String(), "filled:") || !strings.Contains(stdout.String(), "load mean/std:") {
		t.Errorf("Expected a printed summary, got %q", stdout.String())
	}
}

func TestProcessConfigFile(t *testing.T) {
	in := writeFile(t, "loadcells.csv", rawCSV)
	cfg := writeFile(t, "flintec.yml", "window_side: 1\nmax_missing_count: 2\nmax_missing_weight_pct: 50\n")
	out := filepath.Join(filepath.Dir(in), "out.csv")

	var stdout, stderr bytes.Buffer
	code := run([]string{"process", "-f", in, "-o", out, "-config", cfg, "-log-level", "error"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("Expected exit 0, got %d", code)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("Expected output file: %v", err)
	}

	// -s wins over the file; 11 weights do not fit 9 samples.
	code = run([]string{"process", "-f", in, "-o", out, "-config", cfg, "-s", "5", "-log-level", "error"}, &stdout, &stderr)
	if code != exitFailure {
		t.Errorf("Expected exit 1 for a window longer than the series, got %d", code)
	}
}

func TestProcessFailures(t *testing.T) {
	unordered := writeFile(t, "unordered.csv", "datetime,load_kg\n"+
		"2021-03-01 08:02:00,14000\n"+
		"2021-03-01 08:00:00,14000\n"+
		"2021-03-01 08:04:00,14000\n")

	tests := []struct {
		name string
		args []string
	}{
		{"unordered", []string{"-f", unordered, "-s", "1"}},
		{"missing input", []string{"-f", filepath.Join(t.TempDir(), "none.csv")}},
		{"bad interval", []string{"-f", unordered, "-t", "09:00"}},
		{"pct", []string{"-f", unordered, "-w", "120"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{"process", "-log-level", "fatal"}, tt.args...)
			if code := run(args, &stdout, &stderr); code != exitFailure {
				t.Errorf("Expected exit 1, got %d", code)
			}
		})
	}
}

func TestPlot(t *testing.T) {
	in := writeFile(t, "loadcells.csv", rawCSV)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"plot", "-f", in, "-log-level", "error"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("Expected exit 0, got %d", code)
	}
	svg, err := os.ReadFile(strings.TrimSuffix(in, ".csv") + ".svg")
	if err != nil {
		t.Fatalf("Expected svg file: %v", err)
	}
	if !bytes.Contains(svg, []byte("<svg")) {
		t.Errorf("Expected SVG content")
	}
}

func TestDefaultOutput(t *testing.T) {
	tests := map[string]string{
		"loadcells.csv":     "loadcells_processed.csv",
		"data/2021/raw.csv": "data/2021/raw_processed.csv",
		"noext":             "noext_processed",
		"archive.tar.csv":   "archive.tar_processed.csv",
	}
	for in, want := range tests {
		if got := defaultOutput(in); got != want {
			t.Errorf("defaultOutput(%s): expected %s, got %s", in, want, got)
		}
	}
}

func TestSplitInterval(t *testing.T) {
	start, stop, err := splitInterval("09:00, 10:30")
	if err != nil || start != "09:00" || stop != "10:30" {
		t.Errorf("Unexpected result %q %q %v", start, stop, err)
	}
	if _, _, err := splitInterval("09:00"); err == nil {
		t.Errorf("Expected error for a single time")
	}
}
