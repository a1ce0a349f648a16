// Package server exposes the processing pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Peruz/flintec-lpp/internal/diag"
	"github.com/Peruz/flintec-lpp/pipeline"
	"github.com/Peruz/flintec-lpp/timeseries"
)

// MaxBodyBytes caps the size of an uploaded series.
const MaxBodyBytes = 64 << 20

// RunIDHeader carries the run id of a processing request.
const RunIDHeader = "X-Run-ID"

// Server runs the pipeline once per request with the base configuration,
// optionally overridden by query parameters.
type Server struct {
	Config        pipeline.Config
	BadTimestamps []byte // bad-timestamp list text, parsed with each request's codec
	Logger        *zap.Logger
	Metrics       *diag.Metrics
}

// New returns a server. A nil metrics value disables metrics.
func New(cfg pipeline.Config, bad []byte, logger *zap.Logger, metrics *diag.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Config: cfg, BadTimestamps: bad, Logger: logger, Metrics: metrics}
}

// NewRouter wires the routes.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", s.Metrics.WrapHandler("healthz", http.HandlerFunc(healthHandler))).Methods(http.MethodGet)
	r.Handle("/v1/process", s.Metrics.WrapHandler("process", http.HandlerFunc(s.processHandler))).Methods(http.MethodPost)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the router wrapped with panic recovery and access logging.
func (s *Server) Handler() http.Handler {
	access := zap.NewStdLog(s.Logger.Named("access"))
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.Logger.Named("recovery"))),
		handlers.PrintRecoveryStack(true),
	)
	return handlers.LoggingHandler(access.Writer(), recovery(s.NewRouter()))
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	logger, runID := diag.WithRun(s.Logger)
	w.Header().Set(RunIDHeader, runID)

	cfg := s.Config
	if err := Override(&cfg, r.URL.Query()); err != nil {
		s.fail(w, logger, http.StatusBadRequest, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		s.fail(w, logger, http.StatusBadRequest, err)
		return
	}
	codec, err := cfg.Codec()
	if err != nil {
		s.fail(w, logger, http.StatusBadRequest, err)
		return
	}

	var bad []time.Time
	if len(s.BadTimestamps) > 0 {
		bad, err = timeseries.ReadBadTimestamps(bytes.NewReader(s.BadTimestamps), codec)
		if err != nil {
			s.fail(w, logger, http.StatusBadRequest, fmt.Errorf("bad timestamps: %w", err))
			return
		}
	}

	opts := timeseries.DefaultCSVOptions()
	opts.Codec = codec
	if col := r.URL.Query().Get("column"); col != "" {
		opts.ValueColumn = col
	}
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	series, err := timeseries.ReadCSV(body, opts, logger.Named("csv"))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(w, logger, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.fail(w, logger, http.StatusUnprocessableEntity, fmt.Errorf("read series: %w", err))
		return
	}

	p, err := pipeline.New(cfg, bad, logger)
	if err != nil {
		s.fail(w, logger, http.StatusBadRequest, err)
		return
	}
	out, rep, err := p.Run(series)
	if err != nil {
		s.fail(w, logger, http.StatusUnprocessableEntity, err)
		return
	}
	s.Metrics.Observe(rep)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("X-Remaining-NaN", strconv.Itoa(rep.Remaining))
	w.WriteHeader(http.StatusOK)
	if err := timeseries.WriteCSV(w, out, codec); err != nil {
		logger.Error("write_response_failed", zap.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, logger *zap.Logger, status int, err error) {
	code := diag.Classify(err)
	s.Metrics.Failure(err)
	logger.Warn("request failed",
		zap.Int("status", status),
		zap.String("code", string(code)),
		zap.Error(err))
	http.Error(w, err.Error(), status)
}

// Override applies query parameters to cfg. Unknown parameters are ignored.
func Override(cfg *pipeline.Config, q url.Values) error {
	ints := map[string]*int{
		"side":        &cfg.WindowSide,
		"max_missing": &cfg.MaxMissingCount,
	}
	floats := map[string]*float64{
		"center_weight":      &cfg.WindowCenterWeight,
		"side_weight":        &cfg.WindowSideWeight,
		"max_missing_weight": &cfg.MaxMissingWeightPct,
		"min_load":           &cfg.MinValue,
		"max_load":           &cfg.MaxValue,
	}
	for key, dst := range ints {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", pipeline.ErrInvalidConfig, key, err)
			}
			*dst = n
		}
	}
	for key, dst := range floats {
		if v := q.Get(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", pipeline.ErrInvalidConfig, key, err)
			}
			*dst = f
		}
	}
	if v := q.Get("bad_interval"); v != "" {
		start, stop, ok := strings.Cut(v, ",")
		if !ok {
			return fmt.Errorf("%w: bad_interval %q, want HH:MM,HH:MM", pipeline.ErrInvalidConfig, v)
		}
		cfg.BadIntervalStart, cfg.BadIntervalStop = strings.TrimSpace(start), strings.TrimSpace(stop)
	}
	if v := q.Get("time_format"); v != "" {
		cfg.TimeFormat = v
	}
	if v := q.Get("location"); v != "" {
		cfg.Location = v
	}
	return nil
}
