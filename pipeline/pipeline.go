// Package pipeline chains masking, continuity repair and imputation.
package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Peruz/flintec-lpp/impute"
	"github.com/Peruz/flintec-lpp/mask"
	"github.com/Peruz/flintec-lpp/repair"
	"github.com/Peruz/flintec-lpp/timeseries"
	"github.com/Peruz/flintec-lpp/window"
)

// Report summarizes one run.
type Report struct {
	Input      int
	Output     int
	Step       time.Duration
	Masked     mask.Report
	BadMissing int // bad timestamps not present in the series
	Repair     repair.Result
	Impute     impute.Stats
	Remaining  int // NaN values in the output
	Duration   time.Duration
}

// Pipeline processes one series per Run. It holds no state between runs.
type Pipeline struct {
	Config        Config
	BadTimestamps []time.Time
	Logger        *zap.Logger
}

// New validates cfg and returns a pipeline.
func New(cfg Config, bad []time.Time, logger *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{Config: cfg, BadTimestamps: bad, Logger: logger}, nil
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Rules returns the masking rules configured for the run.
func (p *Pipeline) Rules() ([]mask.Rule, *mask.BadTimestamps, error) {
	rules := []mask.Rule{
		mask.ErrorCode{Floor: p.Config.ErrorCodeFloor},
		mask.Range{Min: p.Config.MinValue, Max: p.Config.MaxValue},
	}
	var bad *mask.BadTimestamps
	if len(p.BadTimestamps) > 0 {
		bad = &mask.BadTimestamps{Times: p.BadTimestamps, Logger: p.logger().Named("mask")}
		rules = append(rules, bad)
	}
	interval, err := p.Config.Interval()
	if err != nil {
		return nil, nil, err
	}
	if interval != nil {
		rules = append(rules, *interval)
	}
	return rules, bad, nil
}

// Run masks s in place, then returns a new repaired and imputed series.
// Any returned error is fatal for the run and names the failing stage.
func (p *Pipeline) Run(s *timeseries.Series) (*timeseries.Series, Report, error) {
	start := time.Now()
	logger := p.logger()
	rep := Report{Input: s.Len()}

	if err := s.CheckOrdered(); err != nil {
		return nil, rep, fmt.Errorf("check order: %w", err)
	}
	w, err := window.Build(p.Config.WindowCenterWeight, p.Config.WindowSideWeight, p.Config.WindowSide)
	if err != nil {
		return nil, rep, fmt.Errorf("build window: %w", err)
	}

	rules, bad, err := p.Rules()
	if err != nil {
		return nil, rep, err
	}
	rep.Masked = mask.Apply(s, logger.Named("mask"), rules...)
	if bad != nil {
		rep.BadMissing = bad.Missing
	}

	repaired, res, err := repair.Repair(s, logger.Named("repair"))
	if err != nil {
		return nil, rep, fmt.Errorf("repair: %w", err)
	}
	rep.Repair = res
	rep.Step = res.Step
	if err := repair.CheckContinuous(repaired, res.Step); err != nil {
		return nil, rep, fmt.Errorf("repair: %w", err)
	}

	im := &impute.Imputer{
		Window:              w,
		MaxMissingCount:     p.Config.MaxMissingCount,
		MaxMissingWeightPct: p.Config.MaxMissingWeightPct,
		Logger:              logger.Named("impute"),
	}
	out, stats, err := im.Apply(repaired)
	if err != nil {
		return nil, rep, fmt.Errorf("impute: %w", err)
	}
	rep.Impute = stats
	rep.Output = out.Len()
	rep.Remaining = out.CountNaN()
	rep.Duration = time.Since(start)

	logger.Info("pipeline finished",
		zap.Int("input", rep.Input),
		zap.Int("output", rep.Output),
		zap.Duration("step", rep.Step),
		zap.Int("masked", rep.Masked.Total),
		zap.Int("inserted", rep.Repair.Inserted),
		zap.Int("filled", rep.Impute.Filled),
		zap.Int("remaining_nan", rep.Remaining),
		zap.Duration("took", rep.Duration))
	return out, rep, nil
}
