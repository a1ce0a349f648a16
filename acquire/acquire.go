package acquire

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/Peruz/flintec-lpp/timeseries"
)

// Error codes written in place of a weight. They sit above any plausible
// load, so the error-code mask removes them before processing.
const (
	CodeGeneral = 999999.0 // I/O error on the connection
	CodeNone    = 999998.0 // the device returned no data
	CodeInvalid = 999997.0 // the reply was not valid text
	CodeSkipped = 999996.0 // the tick passed while reconnecting
	CodeParse   = 999995.0 // the reply did not hold a number
)

// CodeText returns the textual form of an error code, as stored in the raw
// reading column.
func CodeText(code float64) string {
	return "E+" + strconv.FormatFloat(code, 'f', 0, 64) + "."
}

// Header is the first line of an acquisition file.
var Header = []string{"datetime", "weight_kg", "raw_reading"}

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid acquisition configuration")

// Intervals lists the accepted reading intervals. Each divides a day, so
// ticks fall on the same clock times every day.
var Intervals = []time.Duration{
	time.Minute, 2 * time.Minute, 3 * time.Minute, 5 * time.Minute,
	10 * time.Minute, 15 * time.Minute, 20 * time.Minute, 30 * time.Minute,
	time.Hour, 2 * time.Hour, 3 * time.Hour, 6 * time.Hour, 12 * time.Hour, 24 * time.Hour,
}

// Config drives the acquisition loop.
type Config struct {
	Addr       string        // host:port of the indicator
	Command    string        // GN (net weight) or GA (average of 128 readings over 1 s)
	Interval   time.Duration // reading interval, also the rounding of the tick times
	Delay      time.Duration // wait after connecting, before scheduling
	Timeout    time.Duration // read and write deadline
	RetryDelay time.Duration // pause between reconnection attempts
	WritePause time.Duration // pause between command and reading
}

// DefaultConfig returns the settings of the field installation.
func DefaultConfig() Config {
	return Config{
		Addr:       "192.168.0.100:23",
		Command:    "GN",
		Interval:   2 * time.Minute,
		Timeout:    15 * time.Second,
		RetryDelay: 30 * time.Second,
		WritePause: 2 * time.Second,
	}
}

// Validate checks the address, the command and the interval. The command is
// case-insensitive.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalidConfig, c.Addr, err)
	}
	switch strings.ToUpper(c.Command) {
	case "GN", "GA":
	default:
		return fmt.Errorf("%w: command %q, want GN or GA", ErrInvalidConfig, c.Command)
	}
	if !slices.Contains(Intervals, c.Interval) {
		return fmt.Errorf("%w: interval %s not allowed", ErrInvalidConfig, c.Interval)
	}
	if c.Delay < 0 || c.Timeout <= 0 || c.RetryDelay < 0 || c.WritePause < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// FirstRounded returns the first multiple of interval after now, counted in
// the local time of now.
func FirstRounded(now time.Time, interval time.Duration) time.Time {
	_, offset := now.Zone()
	off := time.Duration(offset) * time.Second
	local := now.Add(off).UnixNano()
	step := int64(interval)
	next := (local/step + 1) * step
	return time.Unix(0, next).Add(-off).In(now.Location())
}

// ParseReading extracts the weight from an indicator reply. The first two
// characters are the reply prefix. Anything unparsable gives CodeParse.
// Error code texts parse back to their code.
func ParseReading(raw string) float64 {
	if len(raw) < 2 {
		return CodeParse
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw[2:]), 64)
	if err != nil {
		return CodeParse
	}
	return v
}

// PrepareCSV opens path for appending, writing the header if the file is new.
func PrepareCSV(path string) (*os.File, bool, error) {
	_, err := os.Stat(path)
	exists := err == nil
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open acquisition file: %w", err)
	}
	if !exists {
		w := csv.NewWriter(f)
		if err := w.Write(Header); err != nil {
			f.Close()
			return nil, false, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, false, err
		}
	}
	return f, exists, nil
}

// Recorder receives one outcome per written row.
type Recorder interface {
	Acquired(outcome string)
}

// Row outcomes.
const (
	OutcomeReading = "reading"
	OutcomeParse   = "parse_error"
	OutcomeNone    = "no_data"
	OutcomeInvalid = "invalid"
	OutcomeIO      = "io_error"
	OutcomeSkipped = "skipped"
)

// Logger polls a load-cell indicator over telnet and appends one row per tick.
type Logger struct {
	Config   Config
	Out      io.Writer
	Codec    timeseries.Codec
	Log      *zap.Logger
	Recorder Recorder

	// Now defaults to time.Now.
	Now func() time.Time

	dialer  net.Dialer
	pending deque.Deque[[]byte]
}

// MaxPending bounds the rows kept while the output refuses writes. Beyond
// it the oldest pending row is dropped.
const MaxPending = 1440

// NewLogger returns a Logger writing rows to out with the naive local codec.
func NewLogger(cfg Config, out io.Writer, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{
		Config: cfg,
		Out:    out,
		Codec:  timeseries.NaiveCodec(time.Local),
		Log:    log,
		Now:    time.Now,
	}
}

// Run connects, waits for the first rounded tick and then reads once per
// interval until ctx is done. A failed first connection is returned; later
// failures are written as error codes and the connection is re-established.
func (l *Logger) Run(ctx context.Context) error {
	if l.Now == nil {
		l.Now = time.Now
	}
	if l.Codec == nil {
		l.Codec = timeseries.NaiveCodec(time.Local)
	}
	if l.Log == nil {
		l.Log = zap.NewNop()
	}
	l.dialer.Timeout = l.Config.Timeout
	command := []byte(strings.ToUpper(l.Config.Command) + "\n")

	conn, err := l.dialer.DialContext(ctx, "tcp", l.Config.Addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", l.Config.Addr, err)
	}
	defer func() {
		if conn != nil {
			conn.Close()
		}
		if n := l.pending.Len(); n > 0 {
			l.Log.Error("rows never written", zap.Int("rows", n))
		}
	}()
	l.Log.Info("connected", zap.String("addr", l.Config.Addr))

	if l.Config.Delay > 0 {
		l.Log.Info("delaying start", zap.Duration("delay", l.Config.Delay))
		if err := sleep(ctx, l.Config.Delay); err != nil {
			return err
		}
	}

	tick := FirstRounded(l.Now(), l.Config.Interval)
	l.Log.Info("acquisition scheduled",
		zap.Time("first", tick),
		zap.Duration("interval", l.Config.Interval))
	if err := sleep(ctx, tick.Sub(l.Now())); err != nil {
		return err
	}

	for {
		raw, outcome := l.read(ctx, conn, command, tick)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.writeRow(tick, raw, outcome); err != nil {
			l.Log.Error("could not write row", zap.Time("tick", tick), zap.Error(err))
		}

		if outcome == OutcomeNone || outcome == OutcomeInvalid || outcome == OutcomeIO {
			conn.Close()
			conn, err = l.reconnect(ctx)
			if err != nil {
				return err
			}
		}

		next := tick.Add(l.Config.Interval)
		for !next.After(l.Now()) {
			l.Log.Warn("tick already passed, skipped", zap.Time("tick", next))
			if err := l.writeRow(next, CodeText(CodeSkipped), OutcomeSkipped); err != nil {
				l.Log.Error("could not write row", zap.Time("tick", next), zap.Error(err))
			}
			next = next.Add(l.Config.Interval)
		}

		if err := sleep(ctx, next.Sub(l.Now())); err != nil {
			return err
		}
		tick = next
	}
}

// read drains stale bytes, sends the command and reads the reply. The
// returned raw text is the error code text when the exchange failed.
func (l *Logger) read(ctx context.Context, conn net.Conn, command []byte, tick time.Time) (string, string) {
	buf := make([]byte, 32)

	conn.SetReadDeadline(time.Now().Add(drainWait))
	if n, _ := conn.Read(buf); n > 0 {
		l.Log.Warn("found non-empty queue", zap.Int("bytes", n))
	}

	conn.SetWriteDeadline(time.Now().Add(l.Config.Timeout))
	if n, err := conn.Write(command); err != nil || n != len(command) {
		l.Log.Warn("failed to write command", zap.Error(err))
	}

	if err := sleep(ctx, l.Config.WritePause); err != nil {
		return CodeText(CodeGeneral), OutcomeIO
	}

	conn.SetReadDeadline(time.Now().Add(l.Config.Timeout))
	n, err := conn.Read(buf)
	switch {
	case n == 0 && (err == nil || errors.Is(err, io.EOF)):
		l.Log.Warn("no data", zap.Time("tick", tick))
		return CodeText(CodeNone), OutcomeNone
	case n == 0:
		l.Log.Warn("read failed", zap.Time("tick", tick), zap.Error(err))
		return CodeText(CodeGeneral), OutcomeIO
	case !utf8.Valid(buf[:n]):
		l.Log.Warn("invalid reply", zap.Time("tick", tick), zap.Binary("reply", buf[:n]))
		return CodeText(CodeInvalid), OutcomeInvalid
	}
	raw := strings.TrimRight(string(buf[:n]), " \t\r\n")
	if ParseReading(raw) == CodeParse {
		return raw, OutcomeParse
	}
	return raw, OutcomeReading
}

// writeRow queues the row behind any rows the output refused earlier and
// writes the queue in order.
func (l *Logger) writeRow(tick time.Time, raw, outcome string) error {
	var weight float64
	switch outcome {
	case OutcomeSkipped:
		weight = CodeSkipped
	default:
		weight = ParseReading(raw)
	}
	if l.Recorder != nil {
		l.Recorder.Acquired(outcome)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{
		l.Codec.Format(tick),
		strconv.FormatFloat(weight, 'f', -1, 64),
		raw,
	})
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	l.pending.PushBack(buf.Bytes())
	if l.pending.Len() > MaxPending {
		dropped := l.pending.PopFront()
		l.Log.Warn("too many pending rows, oldest dropped",
			zap.ByteString("row", bytes.TrimSpace(dropped)))
	}
	if err := l.flush(); err != nil {
		return err
	}
	l.Log.Debug("row written",
		zap.Time("tick", tick),
		zap.Float64("weight", weight),
		zap.String("raw", raw))
	return nil
}

// flush writes the pending rows oldest first and stops at the first failure.
func (l *Logger) flush() error {
	backlog := l.pending.Len()
	for l.pending.Len() > 0 {
		if _, err := l.Out.Write(l.pending.Front()); err != nil {
			return fmt.Errorf("%d rows pending: %w", l.pending.Len(), err)
		}
		l.pending.PopFront()
	}
	if backlog > 1 {
		l.Log.Info("pending rows written", zap.Int("rows", backlog))
	}
	return nil
}

func (l *Logger) reconnect(ctx context.Context) (net.Conn, error) {
	for {
		l.Log.Info("refreshing connection", zap.String("addr", l.Config.Addr))
		conn, err := l.dialer.DialContext(ctx, "tcp", l.Config.Addr)
		if err == nil {
			l.Log.Info("connection restored, resume logging")
			return conn, nil
		}
		l.Log.Warn("connection failed, trying again", zap.Error(err), zap.Duration("retry", l.Config.RetryDelay))
		if err := sleep(ctx, l.Config.RetryDelay); err != nil {
			return nil, err
		}
	}
}

const drainWait = 20 * time.Millisecond

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
