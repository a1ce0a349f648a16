package acquire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Peruz/flintec-lpp/timeseries"
)

func TestCodeText(t *testing.T) {
	tests := []struct {
		code float64
		want string
	}{
		{CodeGeneral, "E+999999."},
		{CodeNone, "E+999998."},
		{CodeInvalid, "E+999997."},
		{CodeSkipped, "E+999996."},
		{CodeParse, "E+999995."},
	}
	for _, tt := range tests {
		if got := CodeText(tt.code); got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"N  14012.5", 14012.5},
		{"G -3.25", -3.25},
		{"GN14000", 14000},
		{"E+999998.", CodeNone},
		{"N", CodeParse},
		{"", CodeParse},
		{"N abc", CodeParse},
	}
	for _, tt := range tests {
		if got := ParseReading(tt.raw); got != tt.want {
			t.Errorf("ParseReading(%q): expected %g, got %g", tt.raw, tt.want, got)
		}
	}
}

func TestFirstRounded(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	tests := []struct {
		now      time.Time
		interval time.Duration
		want     time.Time
	}{
		{time.Date(2021, 3, 1, 8, 3, 10, 0, time.UTC), 2 * time.Minute, time.Date(2021, 3, 1, 8, 4, 0, 0, time.UTC)},
		{time.Date(2021, 3, 1, 8, 4, 0, 0, time.UTC), 2 * time.Minute, time.Date(2021, 3, 1, 8, 6, 0, 0, time.UTC)},
		{time.Date(2021, 3, 1, 8, 3, 0, 0, cet), time.Hour, time.Date(2021, 3, 1, 9, 0, 0, 0, cet)},
		{time.Date(2021, 3, 1, 23, 30, 0, 0, cet), 24 * time.Hour, time.Date(2021, 3, 2, 0, 0, 0, 0, cet)},
		{time.Date(2021, 3, 1, 7, 59, 0, 0, cet), 6 * time.Hour, time.Date(2021, 3, 1, 12, 0, 0, 0, cet)},
	}
	for _, tt := range tests {
		got := FirstRounded(tt.now, tt.interval)
		if !got.Equal(tt.want) {
			t.Errorf("FirstRounded(%v, %v): expected %v, got %v", tt.now, tt.interval, tt.want, got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}

	lower := DefaultConfig()
	lower.Command = "ga"
	if err := lower.Validate(); err != nil {
		t.Errorf("Expected lower-case command to be accepted, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no port", func(c *Config) { c.Addr = "192.168.0.100" }},
		{"command", func(c *Config) { c.Command = "GX" }},
		{"interval", func(c *Config) { c.Interval = 7 * time.Minute }},
		{"timeout", func(c *Config) { c.Timeout = 0 }},
		{"delay", func(c *Config) { c.Delay = -time.Minute }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestPrepareCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loadcells.csv")

	f, existed, err := PrepareCSV(path)
	if err != nil {
		t.Fatalf("PrepareCSV failed: %v", err)
	}
	if existed {
		t.Errorf("Expected a new file")
	}
	f.WriteString("2021-03-01 08:00:00,14000,N 14000\n")
	f.Close()

	f, existed, err = PrepareCSV(path)
	if err != nil {
		t.Fatalf("PrepareCSV failed: %v", err)
	}
	if !existed {
		t.Errorf("Expected the existing file to be reused")
	}
	f.WriteString("2021-03-01 08:02:00,14001,N 14001\n")
	f.Close()

	buf, _ := os.ReadFile(path)
	want := "datetime,weight_kg,raw_reading\n" +
		"2021-03-01 08:00:00,14000,N 14000\n" +
		"2021-03-01 08:02:00,14001,N 14001\n"
	if string(buf) != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, buf)
	}
}

// startDevice serves a fake indicator answering reply to every GN command.
// With closeAfter > 0 each connection is dropped after that many replies.
func startDevice(t *testing.T, reply string, closeAfter int) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				served := 0
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if strings.TrimSpace(line) != "GN" {
						continue
					}
					c.Write([]byte(reply))
					served++
					if closeAfter > 0 && served >= closeAfter {
						return
					}
				}
			}(c)
		}
	}()
	return ln.Addr().String()
}

type recorder struct {
	mu       sync.Mutex
	outcomes []string
	done     chan struct{}
	until    func([]string) bool
}

func newRecorder(until func([]string) bool) *recorder {
	return &recorder{done: make(chan struct{}), until: until}
}

func (r *recorder) Acquired(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	if r.until != nil && r.until(r.outcomes) {
		r.until = nil
		close(r.done)
	}
}

func count(outcomes []string, want string) int {
	n := 0
	for _, o := range outcomes {
		if o == want {
			n++
		}
	}
	return n
}

func testConfig(addr string) Config {
	return Config{
		Addr:       addr,
		Command:    "gn",
		Interval:   50 * time.Millisecond,
		Timeout:    time.Second,
		RetryDelay: 10 * time.Millisecond,
	}
}

func runUntil(t *testing.T, l *Logger, rec *recorder) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	select {
	case <-rec.done:
	case err := <-errc:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		rec.mu.Lock()
		defer rec.mu.Unlock()
		t.Fatalf("Timed out, outcomes so far: %v", rec.outcomes)
	}
	cancel()
	return <-errc
}

func readRows(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	rows, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("Invalid CSV output: %v", err)
	}
	return rows
}

func TestLoggerRun(t *testing.T) {
	addr := startDevice(t, "N  14012.5\r\n", 0)
	rec := newRecorder(func(o []string) bool { return count(o, OutcomeReading) >= 3 })

	var out bytes.Buffer
	l := NewLogger(testConfig(addr), &out, zaptest.NewLogger(t))
	l.Codec = timeseries.RFC3339Codec()
	l.Recorder = rec

	if err := runUntil(t, l, rec); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	rows := readRows(t, &out)
	readings := 0
	for _, row := range rows {
		if len(row) != 3 {
			t.Fatalf("Expected 3 fields, got %v", row)
		}
		if _, err := time.Parse(time.RFC3339, row[0]); err != nil {
			t.Fatalf("Invalid timestamp %q: %v", row[0], err)
		}
		if row[2] == "N  14012.5" {
			readings++
			if row[1] != "14012.5" {
				t.Errorf("Expected weight 14012.5, got %s", row[1])
			}
		}
	}
	if readings < 3 {
		t.Errorf("Expected at least 3 readings, got %d in %v", readings, rows)
	}
}

func TestLoggerReconnects(t *testing.T) {
	addr := startDevice(t, "N  14000\r\n", 1)
	rec := newRecorder(func(o []string) bool {
		return count(o, OutcomeReading) >= 2 && count(o, OutcomeNone)+count(o, OutcomeIO) >= 1
	})

	var out bytes.Buffer
	l := NewLogger(testConfig(addr), &out, zaptest.NewLogger(t))
	l.Recorder = rec

	if err := runUntil(t, l, rec); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	rows := readRows(t, &out)
	codes := 0
	for _, row := range rows {
		if strings.HasPrefix(row[2], "E+") {
			codes++
			if w := ParseReading(row[2]); w < CodeParse || row[1] != strconv.FormatFloat(w, 'f', -1, 64) {
				t.Errorf("Expected the weight column to hold the error code: %v", row)
			}
		}
	}
	if codes == 0 {
		t.Errorf("Expected an error-code row for the dropped connection, got %v", rows)
	}
}

func TestLoggerConnectFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	l := NewLogger(testConfig(addr), &bytes.Buffer{}, zaptest.NewLogger(t))
	if err := l.Run(context.Background()); err == nil {
		t.Errorf("Expected connection error")
	}
}

// flakyWriter refuses writes while down is set.
type flakyWriter struct {
	bytes.Buffer
	down bool
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.down {
		return 0, errors.New("disk full")
	}
	return w.Buffer.Write(p)
}

func TestLoggerPendingRows(t *testing.T) {
	out := &flakyWriter{down: true}
	l := NewLogger(DefaultConfig(), out, zaptest.NewLogger(t))
	l.Codec = timeseries.NaiveCodec(time.UTC)
	t0 := time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if err := l.writeRow(t0.Add(time.Duration(i)*time.Minute), "N 14000", OutcomeReading); err == nil {
			t.Fatalf("Expected an error while the output is down")
		}
	}
	if l.pending.Len() != 2 {
		t.Fatalf("Expected 2 pending rows, got %d", l.pending.Len())
	}

	out.down = false
	if err := l.writeRow(t0.Add(2*time.Minute), "N 14002", OutcomeReading); err != nil {
		t.Fatalf("writeRow failed: %v", err)
	}
	rows := readRows(t, &out.Buffer)
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if want := l.Codec.Format(t0.Add(time.Duration(i) * time.Minute)); row[0] != want {
			t.Errorf("Row %d: expected %s, got %s", i, want, row[0])
		}
	}
	if l.pending.Len() != 0 {
		t.Errorf("Expected no pending rows, got %d", l.pending.Len())
	}
}

func TestLoggerPendingRowsBounded(t *testing.T) {
	out := &flakyWriter{down: true}
	l := NewLogger(DefaultConfig(), out, zaptest.NewLogger(t))
	t0 := time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < MaxPending+5; i++ {
		l.writeRow(t0.Add(time.Duration(i)*time.Minute), "N 14000", OutcomeReading)
	}
	if l.pending.Len() != MaxPending {
		t.Errorf("Expected %d pending rows, got %d", MaxPending, l.pending.Len())
	}
	first := l.Codec.Format(t0.Add(5 * time.Minute))
	if !strings.HasPrefix(string(l.pending.Front()), first) {
		t.Errorf("Expected the oldest rows dropped, front is %q", l.pending.Front())
	}
}
