// Package timeseries provides the load series container and its text codecs.
package timeseries

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrLengthMismatch is returned when timestamps and values differ in length.
	ErrLengthMismatch = errors.New("timestamps and values must have the same length")
	// ErrNotAscending marks a series whose timestamps are not strictly increasing.
	ErrNotAscending = errors.New("timestamps are not strictly ascending")
	// ErrTooShort is returned when an operation needs more samples than available.
	ErrTooShort = errors.New("series is too short")
)

// OrderError reports the first pair of timestamps that breaks strict ordering.
type OrderError struct {
	Index int // index of the offending sample
	Prev  time.Time
	Curr  time.Time
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("timestamp %s at index %d does not follow %s",
		e.Curr.Format(time.RFC3339), e.Index, e.Prev.Format(time.RFC3339))
}

func (e *OrderError) Unwrap() error { return ErrNotAscending }

// Sample is a single (timestamp, value) pair.
type Sample struct {
	Time  time.Time
	Value float64
}

// Missing reports whether the sample holds no valid measurement.
func (s Sample) Missing() bool {
	return math.IsNaN(s.Value)
}

// Series represents a load time series with timestamps and values.
// Index i of Timestamps always belongs to index i of Values; NaN marks
// a timestamp without a valid measurement.
type Series struct {
	Timestamps []time.Time
	Values     []float64
	Name       string
}

// New creates a series from values, spaced one hour apart from the Unix epoch.
func New(values []float64) *Series {
	return NewRegular(time.Unix(0, 0).UTC(), time.Hour, values)
}

// NewRegular creates a series starting at start with a fixed step.
func NewRegular(start time.Time, step time.Duration, values []float64) *Series {
	timestamps := make([]time.Time, len(values))
	for i := range timestamps {
		timestamps[i] = start.Add(time.Duration(i) * step)
	}
	return &Series{
		Timestamps: timestamps,
		Values:     values,
	}
}

// NewWithTimestamps creates a time series with explicit timestamps.
func NewWithTimestamps(timestamps []time.Time, values []float64) (*Series, error) {
	if len(timestamps) != len(values) {
		return nil, ErrLengthMismatch
	}
	return &Series{
		Timestamps: timestamps,
		Values:     values,
	}, nil
}

// Len returns the length of the series.
func (s *Series) Len() int {
	return len(s.Values)
}

// At returns the sample at index i.
func (s *Series) At(i int) Sample {
	return Sample{Time: s.Timestamps[i], Value: s.Values[i]}
}

// First returns the first timestamp, or the zero time for an empty series.
func (s *Series) First() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[0]
}

// Last returns the last timestamp, or the zero time for an empty series.
func (s *Series) Last() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[len(s.Timestamps)-1]
}

// CheckOrdered verifies that timestamps are strictly increasing.
// The returned error is an *OrderError.
func (s *Series) CheckOrdered() error {
	if len(s.Timestamps) != len(s.Values) {
		return ErrLengthMismatch
	}
	for i := 1; i < len(s.Timestamps); i++ {
		if !s.Timestamps[i].After(s.Timestamps[i-1]) {
			return &OrderError{Index: i, Prev: s.Timestamps[i-1], Curr: s.Timestamps[i]}
		}
	}
	return nil
}

// IndexOf finds the index of t by exact equality. Requires ascending timestamps.
func (s *Series) IndexOf(t time.Time) (int, bool) {
	i := sort.Search(len(s.Timestamps), func(i int) bool {
		return !s.Timestamps[i].Before(t)
	})
	if i < len(s.Timestamps) && s.Timestamps[i].Equal(t) {
		return i, true
	}
	return i, false
}

// MinStep returns the smallest delta between consecutive timestamps.
func (s *Series) MinStep() (time.Duration, error) {
	if len(s.Timestamps) < 2 {
		return 0, ErrTooShort
	}
	step := s.Timestamps[1].Sub(s.Timestamps[0])
	for i := 2; i < len(s.Timestamps); i++ {
		if d := s.Timestamps[i].Sub(s.Timestamps[i-1]); d < step {
			step = d
		}
	}
	return step, nil
}

// present returns the non-NaN values.
func (s *Series) present() []float64 {
	out := make([]float64, 0, len(s.Values))
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// CountNaN returns the number of missing values.
func (s *Series) CountNaN() int {
	n := 0
	for _, v := range s.Values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Mean calculates the arithmetic mean of the present values.
func (s *Series) Mean() float64 {
	p := s.present()
	if len(p) == 0 {
		return math.NaN()
	}
	return stat.Mean(p, nil)
}

// Std calculates the sample standard deviation of the present values.
func (s *Series) Std() float64 {
	p := s.present()
	if len(p) < 2 {
		return 0
	}
	return stat.StdDev(p, nil)
}

// Min returns the minimum present value.
func (s *Series) Min() float64 {
	p := s.present()
	if len(p) == 0 {
		return math.NaN()
	}
	return floats.Min(p)
}

// Max returns the maximum present value.
func (s *Series) Max() float64 {
	p := s.present()
	if len(p) == 0 {
		return math.NaN()
	}
	return floats.Max(p)
}

// Slice returns a slice of the series from start to end (exclusive).
func (s *Series) Slice(start, end int) *Series {
	if start < 0 {
		start = 0
	}
	if end > len(s.Values) {
		end = len(s.Values)
	}
	if start >= end {
		return &Series{Timestamps: []time.Time{}, Values: []float64{}, Name: s.Name}
	}

	values := make([]float64, end-start)
	copy(values, s.Values[start:end])

	timestamps := make([]time.Time, end-start)
	copy(timestamps, s.Timestamps[start:end])

	return &Series{
		Timestamps: timestamps,
		Values:     values,
		Name:       s.Name,
	}
}

// Copy creates a deep copy of the series.
func (s *Series) Copy() *Series {
	values := make([]float64, len(s.Values))
	copy(values, s.Values)

	timestamps := make([]time.Time, len(s.Timestamps))
	copy(timestamps, s.Timestamps)

	return &Series{
		Timestamps: timestamps,
		Values:     values,
		Name:       s.Name,
	}
}

// DropNaN returns a new series without the missing samples, leaving time gaps.
func (s *Series) DropNaN() *Series {
	out := &Series{
		Timestamps: make([]time.Time, 0, len(s.Timestamps)),
		Values:     make([]float64, 0, len(s.Values)),
		Name:       s.Name,
	}
	for i, v := range s.Values {
		if math.IsNaN(v) {
			continue
		}
		out.Timestamps = append(out.Timestamps, s.Timestamps[i])
		out.Values = append(out.Values, v)
	}
	return out
}

// Segment is a contiguous run of present samples.
type Segment struct {
	Timestamps []time.Time
	Values     []float64
}

// Segments splits the series on missing values. Renderers draw each
// segment separately so that gaps are never interpolated across.
func (s *Series) Segments() []Segment {
	var segs []Segment
	start := -1
	for i := 0; i <= len(s.Values); i++ {
		gap := i == len(s.Values) || math.IsNaN(s.Values[i])
		switch {
		case !gap && start < 0:
			start = i
		case gap && start >= 0:
			segs = append(segs, Segment{
				Timestamps: s.Timestamps[start:i],
				Values:     s.Values[start:i],
			})
			start = -1
		}
	}
	return segs
}
