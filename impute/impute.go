// Package impute fills and smooths a regular series with a weighted moving average.
package impute

import (
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/Peruz/flintec-lpp/timeseries"
	"github.com/Peruz/flintec-lpp/window"
)

// Reason tells why a position was left missing.
type Reason int

const (
	// Computed means the position received a weighted average.
	Computed Reason = iota
	// TooManyMissing means the missing-count budget was exceeded.
	TooManyMissing
	// TooMuchMissingWeight means the missing-weight budget was exceeded.
	TooMuchMissingWeight
)

func (r Reason) String() string {
	switch r {
	case TooManyMissing:
		return "missing_count"
	case TooMuchMissingWeight:
		return "missing_weight"
	default:
		return "computed"
	}
}

// Stats counts the outcome of a smoothing pass.
type Stats struct {
	Filled          int // missing inputs that received an estimate
	Smoothed        int // present inputs replaced by their local average
	Aborted         int // positions left missing, see the two counters below
	AbortedByCount  int
	AbortedByWeight int
}

// Smooth rolls w over values and returns a new slice of the same length.
//
// Slots outside the series or holding NaN add one to the missing count and
// their weight to the missing weight. A position is abandoned as NaN as soon
// as the count exceeds maxMissingCount or the missing weight exceeds
// maxMissingWeightPct percent of the window total. Otherwise it becomes
// the weighted mean of the present slots. Present and missing inputs are
// treated alike, so the pass both smooths and imputes.
func Smooth(values []float64, w window.Window, maxMissingCount int, maxMissingWeightPct float64) ([]float64, Stats, error) {
	out, stats, _, err := smooth(values, w, maxMissingCount, maxMissingWeightPct)
	return out, stats, err
}

func smooth(values []float64, w window.Window, maxMissingCount int, maxMissingWeightPct float64) ([]float64, Stats, []Reason, error) {
	n := len(values)
	if err := window.Validate(w, n); err != nil {
		return nil, Stats{}, nil, err
	}

	side := w.Side()
	maxMissingWeight := w.Sum() * maxMissingWeightPct / 100
	out := make([]float64, n)
	reasons := make([]Reason, n)
	var stats Stats

	for i := 0; i < n; i++ {
		missing := 0
		missingWeight := 0.0
		sum := 0.0
		weightSum := 0.0
		reason := Computed

		for k, we := range w {
			j := i - side + k
			if j < 0 || j >= n || math.IsNaN(values[j]) {
				missing++
				missingWeight += we
			} else {
				sum += values[j] * we
				weightSum += we
			}
			if missing > maxMissingCount {
				reason = TooManyMissing
				break
			}
			if missingWeight > maxMissingWeight {
				reason = TooMuchMissingWeight
				break
			}
		}

		reasons[i] = reason
		switch {
		case reason != Computed:
			out[i] = math.NaN()
			stats.Aborted++
			if reason == TooManyMissing {
				stats.AbortedByCount++
			} else {
				stats.AbortedByWeight++
			}
		default:
			// 0/0 is NaN when no slot contributed.
			out[i] = sum / weightSum
			if math.IsNaN(values[i]) {
				if !math.IsNaN(out[i]) {
					stats.Filled++
				}
			} else {
				stats.Smoothed++
			}
		}
	}
	return out, stats, reasons, nil
}

// Imputer applies Smooth to a series and reports the positions it could
// not estimate.
type Imputer struct {
	Window              window.Window
	MaxMissingCount     int
	MaxMissingWeightPct float64 // allowed missing weight, percent of the window total
	Logger              *zap.Logger
}

// Apply returns a new series with the smoothed values; timestamps are copied.
// Positions abandoned for lack of data are logged at debug level: they are
// an expected outcome, not an error.
func (im *Imputer) Apply(s *timeseries.Series) (*timeseries.Series, Stats, error) {
	logger := im.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	values, stats, reasons, err := smooth(s.Values, im.Window, im.MaxMissingCount, im.MaxMissingWeightPct)
	if err != nil {
		return nil, Stats{}, err
	}

	if logger.Core().Enabled(zap.DebugLevel) {
		for i, r := range reasons {
			if r == Computed {
				continue
			}
			logger.Debug("insufficient data, left missing",
				zap.Time("timestamp", s.Timestamps[i]),
				zap.Int("index", i),
				zap.Stringer("reason", r))
		}
	}

	out := &timeseries.Series{
		Timestamps: slices.Clone(s.Timestamps),
		Values:     values,
		Name:       s.Name,
	}
	logger.Info("series imputed",
		zap.Int("window", im.Window.Len()),
		zap.Int("filled", stats.Filled),
		zap.Int("smoothed", stats.Smoothed),
		zap.Int("left_missing", stats.Aborted))
	return out, stats, nil
}
