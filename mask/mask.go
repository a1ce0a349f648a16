// Package mask implements the rules that mark invalid samples as missing.
package mask

import (
	"fmt"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/Peruz/flintec-lpp/timeseries"
)

// Rule marks matching values as NaN in place. Timestamps are never touched.
// Apply returns the number of samples that were present and are now masked,
// so applying a rule twice masks nothing the second time.
type Rule interface {
	Name() string
	Apply(s *timeseries.Series) int
}

// Report collects the outcome of a masking pass.
type Report struct {
	ByRule map[string]int
	Total  int
}

// Apply runs the rules in order and logs how many samples each one masked.
func Apply(s *timeseries.Series, logger *zap.Logger, rules ...Rule) Report {
	if logger == nil {
		logger = zap.NewNop()
	}
	rep := Report{ByRule: make(map[string]int, len(rules))}
	for _, r := range rules {
		n := r.Apply(s)
		rep.ByRule[r.Name()] += n
		rep.Total += n
		if n > 0 {
			logger.Info("masked samples", zap.String("rule", r.Name()), zap.Int("count", n))
		}
	}
	return rep
}

// Chain combines rules into one, applied in order.
type Chain []Rule

func (Chain) Name() string { return "chain" }

func (c Chain) Apply(s *timeseries.Series) int {
	n := 0
	for _, r := range c {
		n += r.Apply(s)
	}
	return n
}

// maskIf sets values matching pred to NaN and counts the newly masked ones.
func maskIf(s *timeseries.Series, pred func(i int, v float64) bool) int {
	n := 0
	for i, v := range s.Values {
		if math.IsNaN(v) {
			continue
		}
		if pred(i, v) {
			s.Values[i] = math.NaN()
			n++
		}
	}
	return n
}

// ErrorCode masks values strictly greater than Floor. The acquisition source
// encodes device faults as magnitudes above any physical reading.
type ErrorCode struct {
	Floor float64
}

func (ErrorCode) Name() string { return "error_code" }

func (r ErrorCode) Apply(s *timeseries.Series) int {
	return maskIf(s, func(_ int, v float64) bool { return v > r.Floor })
}

// Range masks values strictly outside [Min, Max].
type Range struct {
	Min float64
	Max float64
}

func (Range) Name() string { return "range" }

func (r Range) Apply(s *timeseries.Series) int {
	return maskIf(s, func(_ int, v float64) bool { return v > r.Max || v < r.Min })
}

// BadTimestamps masks the samples at the listed timestamps.
//
// Timestamps that are not in the series are logged and counted in Missing;
// this is expected when the slot was never recorded.
type BadTimestamps struct {
	Times   []time.Time
	Logger  *zap.Logger
	Missing int
}

func (*BadTimestamps) Name() string { return "bad_timestamps" }

// Apply looks each bad timestamp up by exact equality in the ascending series.
func (r *BadTimestamps) Apply(s *timeseries.Series) int {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sorted := slices.Clone(r.Times)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })

	r.Missing = 0
	n := 0
	for _, bad := range slices.CompactFunc(sorted, time.Time.Equal) {
		i, ok := s.IndexOf(bad)
		if !ok {
			r.Missing++
			logger.Info("bad timestamp not found", zap.Time("timestamp", bad))
			continue
		}
		logger.Debug("bad timestamp masked", zap.Time("timestamp", bad), zap.Int("index", i))
		if !math.IsNaN(s.Values[i]) {
			s.Values[i] = math.NaN()
			n++
		}
	}
	return n
}

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(text string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, text)
		if err == nil {
			return TimeOfDay(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q, want HH:MM", text)
}

// Of returns the time of day of t in its own location.
func Of(t time.Time) TimeOfDay {
	h, m, sec := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second)
}

func (d TimeOfDay) String() string {
	td := time.Duration(d)
	return fmt.Sprintf("%02d:%02d:%02d", int(td.Hours()), int(td.Minutes())%60, int(td.Seconds())%60)
}

// DailyInterval masks samples whose time of day lies strictly between Start
// and Stop on any date. A Start later than Stop wraps around midnight.
type DailyInterval struct {
	Start TimeOfDay
	Stop  TimeOfDay
}

func (DailyInterval) Name() string { return "daily_interval" }

// Contains reports whether t falls inside the interval.
func (r DailyInterval) Contains(t time.Time) bool {
	tod := Of(t)
	if r.Start <= r.Stop {
		return tod > r.Start && tod < r.Stop
	}
	return tod > r.Start || tod < r.Stop
}

func (r DailyInterval) Apply(s *timeseries.Series) int {
	return maskIf(s, func(i int, _ float64) bool { return r.Contains(s.Timestamps[i]) })
}
