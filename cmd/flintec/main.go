// Command flintec acquires, processes and plots load-cell time series.
//
// Usage:
//
//	flintec process -f loadcells.csv [-o out.csv] [-s 180] [-n 10000] [-w 80] ...
//	flintec plot -f loadcells_processed.csv [-o chart.svg]
//	flintec log -o loadcells.csv -ip 192.168.0.100 -port 23 -c gn -m 2
//	flintec serve -addr :8080
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Peruz/flintec-lpp/acquire"
	"github.com/Peruz/flintec-lpp/internal/diag"
	"github.com/Peruz/flintec-lpp/pipeline"
	"github.com/Peruz/flintec-lpp/plot"
	"github.com/Peruz/flintec-lpp/server"
	"github.com/Peruz/flintec-lpp/timeseries"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	switch args[0] {
	case "process":
		return runProcess(args[1:], stdout, stderr)
	case "plot":
		return runPlot(args[1:], stdout, stderr)
	case "log":
		return runLog(args[1:], stdout, stderr)
	case "serve":
		return runServe(args[1:], stderr)
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: flintec <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  process  mask, repair and smooth a raw load series")
	fmt.Fprintln(w, "  plot     render a load series as SVG")
	fmt.Fprintln(w, "  log      log a load-cell indicator over telnet")
	fmt.Fprintln(w, "  serve    expose the processing over HTTP")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "run 'flintec <command> -h' for the flags of a command")
}

// logFlags are shared by every command.
type logFlags struct {
	level string
	json  bool
}

func (l *logFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&l.level, "log-level", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&l.json, "log-json", false, "log as JSON")
}

func (l *logFlags) logger(stderr io.Writer) (*zap.Logger, bool) {
	logger, err := diag.NewLogger(l.level, l.json)
	if err != nil {
		fmt.Fprintf(stderr, "could not build logger: %v\n", err)
		return nil, false
	}
	return logger, true
}

// parse returns the exit code to use when parsing stops the command.
func parse(fs *flag.FlagSet, args []string) (int, bool) {
	err := fs.Parse(args)
	switch {
	case err == nil:
		if fs.NArg() > 0 {
			fmt.Fprintf(fs.Output(), "unexpected arguments: %v\n", fs.Args())
			return exitUsage, false
		}
		return exitOK, true
	case errors.Is(err, flag.ErrHelp):
		return exitOK, false
	default:
		return exitUsage, false
	}
}

// RunSummary is the JSON form of a processing report.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	Input       string         `json:"input"`
	Output      string         `json:"output"`
	InputLen    int            `json:"input_len"`
	OutputLen   int            `json:"output_len"`
	Step        string         `json:"step"`
	Masked      map[string]int `json:"masked"`
	BadMissing  int            `json:"bad_timestamps_not_found"`
	Inserted    int            `json:"inserted"`
	Filled      int            `json:"filled"`
	Smoothed    int            `json:"smoothed"`
	LeftMissing int            `json:"left_missing"`
	Remaining   int            `json:"remaining_nan"`
	Load        *LoadStats     `json:"load,omitempty"`
	DurationMS  float64        `json:"duration_ms"`
}

// LoadStats describes the present values of the processed series.
type LoadStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// loadStats returns nil when no value is present.
func loadStats(s *timeseries.Series) *LoadStats {
	mean := s.Mean()
	if math.IsNaN(mean) {
		return nil
	}
	return &LoadStats{Mean: mean, Std: s.Std(), Min: s.Min(), Max: s.Max()}
}

func summarize(runID, in, out string, rep pipeline.Report, processed *timeseries.Series) RunSummary {
	return RunSummary{
		RunID:       runID,
		Input:       in,
		Output:      out,
		InputLen:    rep.Input,
		OutputLen:   rep.Output,
		Step:        rep.Step.String(),
		Masked:      rep.Masked.ByRule,
		BadMissing:  rep.BadMissing,
		Inserted:    rep.Repair.Inserted,
		Filled:      rep.Impute.Filled,
		Smoothed:    rep.Impute.Smoothed,
		LeftMissing: rep.Impute.Aborted,
		Remaining:   rep.Remaining,
		Load:        loadStats(processed),
		DurationMS:  float64(rep.Duration.Microseconds()) / 1000,
	}
}

// defaultOutput turns data.csv into data_processed.csv.
func defaultOutput(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "_processed" + ext
}

// splitInterval parses HH:MM,HH:MM.
func splitInterval(v string) (string, string, error) {
	start, stop, ok := strings.Cut(v, ",")
	if !ok {
		return "", "", fmt.Errorf("bad interval %q, want HH:MM,HH:MM", v)
	}
	return strings.TrimSpace(start), strings.TrimSpace(stop), nil
}

// loadConfig reads the optional YAML file and applies the flags set on fs.
func loadConfig(fs *flag.FlagSet, path string, set map[string]func(*pipeline.Config) error) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = pipeline.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
	}
	var err error
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := set[f.Name]; ok && err == nil {
			err = apply(&cfg)
		}
	})
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", pipeline.ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

func loadBadTimestamps(cfg pipeline.Config) ([]time.Time, error) {
	if cfg.BadTimestampsFile == "" {
		return nil, nil
	}
	codec, err := cfg.Codec()
	if err != nil {
		return nil, err
	}
	return timeseries.LoadBadTimestamps(cfg.BadTimestampsFile, codec)
}

func runProcess(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(stderr)

	def := pipeline.DefaultConfig()
	in := fs.String("f", "", "input csv file with the raw data (required)")
	out := fs.String("o", "", "output csv file (default <input>_processed.csv)")
	column := fs.String("column", "", "value column name (default load_kg, else the second column)")
	side := fs.Int("s", def.WindowSide, "data points on each side of the moving average window")
	maxMissing := fs.Int("n", def.MaxMissingCount, "maximum missing values under the window")
	maxWeight := fs.Float64("w", def.MaxMissingWeightPct, "maximum missing weight under the window, percent")
	maxLoad := fs.Float64("max-load", def.MaxValue, "maximum valid load")
	minLoad := fs.Float64("min-load", def.MinValue, "minimum valid load")
	bad := fs.String("b", "", "file of bad timestamps, one per line")
	interval := fs.String("t", "", "daily bad time interval HH:MM,HH:MM")
	configPath := fs.String("config", "", "YAML configuration file; flags take precedence")
	metricsFile := fs.String("metrics-file", "", "write run metrics in the textfile exposition format")
	report := fs.String("report", "", "write the run summary as JSON")
	var lf logFlags
	lf.register(fs)

	if code, ok := parse(fs, args); !ok {
		return code
	}
	if *in == "" {
		fmt.Fprintln(stderr, "process: -f is required")
		fs.Usage()
		return exitUsage
	}
	if *out == "" {
		*out = defaultOutput(*in)
	}

	base, ok := lf.logger(stderr)
	if !ok {
		return exitFailure
	}
	defer base.Sync()
	logger, runID := diag.WithRun(base)
	metrics := diag.NewMetrics()

	fail := func(msg string, err error) int {
		metrics.Failure(err)
		logger.Error(msg, zap.Error(err), zap.String("code", string(diag.Classify(err))))
		if *metricsFile != "" {
			if werr := metrics.WriteTextfile(*metricsFile); werr != nil {
				logger.Warn("could not write metrics", zap.Error(werr))
			}
		}
		return exitFailure
	}

	cfg, err := loadConfig(fs, *configPath, map[string]func(*pipeline.Config) error{
		"s":        func(c *pipeline.Config) error { c.WindowSide = *side; return nil },
		"n":        func(c *pipeline.Config) error { c.MaxMissingCount = *maxMissing; return nil },
		"w":        func(c *pipeline.Config) error { c.MaxMissingWeightPct = *maxWeight; return nil },
		"max-load": func(c *pipeline.Config) error { c.MaxValue = *maxLoad; return nil },
		"min-load": func(c *pipeline.Config) error { c.MinValue = *minLoad; return nil },
		"b":        func(c *pipeline.Config) error { c.BadTimestampsFile = *bad; return nil },
		"t": func(c *pipeline.Config) error {
			var err error
			c.BadIntervalStart, c.BadIntervalStop, err = splitInterval(*interval)
			return err
		},
	})
	if err != nil {
		return fail("invalid configuration", err)
	}
	codec, err := cfg.Codec()
	if err != nil {
		return fail("invalid configuration", err)
	}
	badTimes, err := loadBadTimestamps(cfg)
	if err != nil {
		return fail("could not read bad timestamps", err)
	}

	logger.Info("processing", zap.String("input", *in), zap.String("output", *out))
	opts := timeseries.DefaultCSVOptions()
	opts.Codec = codec
	if *column != "" {
		opts.ValueColumn = *column
	}
	series, err := timeseries.LoadCSV(*in, opts, logger.Named("csv"))
	if err != nil {
		return fail("could not read input", err)
	}
	series.Name = filepath.Base(*in)

	p, err := pipeline.New(cfg, badTimes, logger)
	if err != nil {
		return fail("invalid configuration", err)
	}
	processed, rep, err := p.Run(series)
	if err != nil {
		return fail("processing failed", err)
	}
	if err := timeseries.SaveCSV(processed, *out, codec); err != nil {
		return fail("could not write output", err)
	}
	metrics.Observe(rep)

	summary := summarize(runID, *in, *out, rep, processed)
	printSummary(stdout, summary)
	if *report != "" {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err == nil {
			err = os.WriteFile(*report, data, 0o644)
		}
		if err != nil {
			logger.Warn("could not write report", zap.Error(err))
		}
	}
	if *metricsFile != "" {
		if err := metrics.WriteTextfile(*metricsFile); err != nil {
			logger.Warn("could not write metrics", zap.Error(err))
		}
	}
	return exitOK
}

func printSummary(w io.Writer, s RunSummary) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "%s -> %s\n", s.Input, s.Output)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "  samples in/out:   %d / %d (step %s)\n", s.InputLen, s.OutputLen, s.Step)
	for _, rule := range slices.Sorted(maps.Keys(s.Masked)) {
		fmt.Fprintf(w, "  masked %-11s %d\n", rule+":", s.Masked[rule])
	}
	fmt.Fprintf(w, "  inserted:         %d\n", s.Inserted)
	fmt.Fprintf(w, "  filled:           %d\n", s.Filled)
	fmt.Fprintf(w, "  left missing:     %d\n", s.LeftMissing)
	if s.Load != nil {
		fmt.Fprintf(w, "  load mean/std:    %.1f / %.1f\n", s.Load.Mean, s.Load.Std)
		fmt.Fprintf(w, "  load min/max:     %.1f / %.1f\n", s.Load.Min, s.Load.Max)
	}
}

func runPlot(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("f", "loadcells.csv", "input csv file")
	out := fs.String("o", "", "output svg file (default <input>.svg)")
	column := fs.String("column", "", "value column name (default load_kg, else the second column)")
	title := fs.String("title", "", "chart title")
	format := fs.String("time-format", "naive", "timestamp format: naive or rfc3339")
	var lf logFlags
	lf.register(fs)

	if code, ok := parse(fs, args); !ok {
		return code
	}
	if *out == "" {
		*out = strings.TrimSuffix(*in, filepath.Ext(*in)) + ".svg"
	}
	logger, ok := lf.logger(stderr)
	if !ok {
		return exitFailure
	}
	defer logger.Sync()

	codec, err := timeseries.CodecByName(*format, time.Local)
	if err != nil {
		logger.Error("invalid time format", zap.Error(err))
		return exitUsage
	}
	opts := timeseries.DefaultCSVOptions()
	opts.Codec = codec
	if *column != "" {
		opts.ValueColumn = *column
	}
	series, err := timeseries.LoadCSV(*in, opts, logger.Named("csv"))
	if err != nil {
		logger.Error("could not read input", zap.Error(err))
		return exitFailure
	}

	popts := plot.DefaultOptions()
	popts.Title = *title
	if err := plot.Save(*out, series, popts); err != nil {
		logger.Error("could not plot", zap.Error(err))
		return exitFailure
	}
	fmt.Fprintf(stdout, "plotted %s to %s\n", *in, *out)
	return exitOK
}

func runLog(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	fs.SetOutput(stderr)
	def := acquire.DefaultConfig()
	defHost, defPort, _ := strings.Cut(def.Addr, ":")

	out := fs.String("o", "loadcells.csv", "csv file, appended if it exists")
	ip := fs.String("ip", defHost, "ip address of the indicator")
	port := fs.String("port", defPort, "telnet port of the indicator")
	command := fs.String("c", def.Command, "command: gn (net weight) or ga (average over 1 s)")
	minutes := fs.Int("m", int(def.Interval/time.Minute), "reading interval in minutes: 1, 2, 3, 5, 10, 15, 20, 30, 60")
	hours := fs.Int("hours", 0, "reading interval in hours: 1, 2, 3, 6, 12, 24; overrides -m")
	delay := fs.Int("d", 0, "delay before logging, in minutes")
	verbose := fs.Bool("v", false, "log every row")
	metricsFile := fs.String("metrics-file", "", "write acquisition counters on exit")
	var lf logFlags
	lf.register(fs)

	if code, ok := parse(fs, args); !ok {
		return code
	}
	if *verbose {
		lf.level = "debug"
	}

	cfg := def
	cfg.Addr = *ip + ":" + *port
	cfg.Command = strings.ToUpper(*command)
	cfg.Interval = time.Duration(*minutes) * time.Minute
	if *hours > 0 {
		cfg.Interval = time.Duration(*hours) * time.Hour
	}
	cfg.Delay = time.Duration(*delay) * time.Minute
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "log: %v\n", err)
		return exitUsage
	}

	logger, ok := lf.logger(stderr)
	if !ok {
		return exitFailure
	}
	defer logger.Sync()

	f, existed, err := acquire.PrepareCSV(*out)
	if err != nil {
		logger.Error("could not open csv file", zap.Error(err))
		return exitFailure
	}
	defer f.Close()
	if existed {
		logger.Info("csv file already exists, values will be appended", zap.String("file", *out))
	}

	metrics := diag.NewMetrics()
	l := acquire.NewLogger(cfg, f, logger.Named("acquire"))
	l.Recorder = metrics

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = l.Run(ctx)
	if *metricsFile != "" {
		if werr := metrics.WriteTextfile(*metricsFile); werr != nil {
			logger.Warn("could not write metrics", zap.Error(werr))
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("logging stopped", zap.Error(err))
		return exitFailure
	}
	fmt.Fprintf(stdout, "logging to %s stopped\n", *out)
	return exitOK
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", ":8080", "listen address")
	configPath := fs.String("config", "", "YAML configuration file with the default parameters")
	bad := fs.String("b", "", "file of bad timestamps applied to every request")
	var lf logFlags
	lf.register(fs)

	if code, ok := parse(fs, args); !ok {
		return code
	}
	logger, ok := lf.logger(stderr)
	if !ok {
		return exitFailure
	}
	defer logger.Sync()

	cfg, err := loadConfig(fs, *configPath, map[string]func(*pipeline.Config) error{
		"b": func(c *pipeline.Config) error { c.BadTimestampsFile = *bad; return nil },
	})
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return exitFailure
	}
	var badText []byte
	if cfg.BadTimestampsFile != "" {
		badText, err = os.ReadFile(cfg.BadTimestampsFile)
		if err == nil {
			// Fail at startup on a list the base configuration cannot read.
			_, err = loadBadTimestamps(cfg)
		}
		if err != nil {
			logger.Error("could not read bad timestamps", zap.Error(err))
			return exitFailure
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv := server.New(cfg, badText, logger, diag.NewMetrics())
	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return exitFailure
	}
	return exitOK
}
