// Package repair restores regular time spacing in a load series.
package repair

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Peruz/flintec-lpp/timeseries"
)

// ErrDiscontinuity marks a repaired series whose spacing is not uniform.
var ErrDiscontinuity = errors.New("series is not continuous")

// DiscontinuityError locates the first delta that differs from the step.
type DiscontinuityError struct {
	Index int
	At    time.Time
	Delta time.Duration
	Step  time.Duration
}

func (e *DiscontinuityError) Error() string {
	return fmt.Sprintf("delta %v before %s (index %d) differs from step %v",
		e.Delta, e.At.Format(time.RFC3339), e.Index, e.Step)
}

func (e *DiscontinuityError) Unwrap() error { return ErrDiscontinuity }

// Result summarizes a repair.
type Result struct {
	Step     time.Duration // canonical step, the minimal delta of the input
	Inserted int           // synthesized NaN samples
	Gaps     int           // input intervals that needed filling
}

// Repair returns a new series spaced at the minimal delta of s, with NaN at
// every synthesized timestamp. s must hold at least two strictly ascending
// samples; it is not modified.
func Repair(s *timeseries.Series, logger *zap.Logger) (*timeseries.Series, Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Len() < 2 {
		return nil, Result{}, fmt.Errorf("repair needs at least 2 samples, got %d: %w", s.Len(), timeseries.ErrTooShort)
	}
	if err := s.CheckOrdered(); err != nil {
		return nil, Result{}, err
	}
	step, err := s.MinStep()
	if err != nil {
		return nil, Result{}, err
	}

	n := s.Len()
	expected := ExpectedLen(s.First(), s.Last(), step)
	out := &timeseries.Series{
		Timestamps: make([]time.Time, 0, max(n, expected)),
		Values:     make([]float64, 0, max(n, expected)),
		Name:       s.Name,
	}
	res := Result{Step: step}

	for i := 0; i < n-1; i++ {
		t, next := s.Timestamps[i], s.Timestamps[i+1]
		out.Timestamps = append(out.Timestamps, t)
		out.Values = append(out.Values, s.Values[i])

		inserted := 0
		for fill := t.Add(step); fill.Before(next); fill = fill.Add(step) {
			out.Timestamps = append(out.Timestamps, fill)
			out.Values = append(out.Values, math.NaN())
			inserted++
		}
		if inserted > 0 {
			res.Gaps++
			res.Inserted += inserted
			logger.Debug("filled gap",
				zap.Time("after", t),
				zap.Time("before", next),
				zap.Int("inserted", inserted))
		}
	}
	out.Timestamps = append(out.Timestamps, s.Timestamps[n-1])
	out.Values = append(out.Values, s.Values[n-1])

	logger.Info("series repaired",
		zap.Duration("step", step),
		zap.Int("input", n),
		zap.Int("output", out.Len()),
		zap.Int("gaps", res.Gaps),
		zap.Int("inserted", res.Inserted))
	return out, res, nil
}

// CheckContinuous verifies that every consecutive delta equals step.
// A failure after Repair is an invariant violation, reported as a
// *DiscontinuityError.
func CheckContinuous(s *timeseries.Series, step time.Duration) error {
	if err := s.CheckOrdered(); err != nil {
		return err
	}
	for i := 1; i < s.Len(); i++ {
		if d := s.Timestamps[i].Sub(s.Timestamps[i-1]); d != step {
			return &DiscontinuityError{Index: i, At: s.Timestamps[i], Delta: d, Step: step}
		}
	}
	return nil
}

// ExpectedLen returns the number of samples from first to last at step.
func ExpectedLen(first, last time.Time, step time.Duration) int {
	if step <= 0 {
		return 0
	}
	return int(last.Sub(first)/step) + 1
}
