// Package window builds symmetric weight windows for the moving average.
package window

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// SumTolerance is the accepted deviation of a normalized window sum from 1.
const SumTolerance = 0.02

var (
	// ErrInvalidWeights is returned for negative weights or a negative half-width.
	ErrInvalidWeights = errors.New("invalid window weights")
	// ErrNotNormalized is returned when a normalized window does not sum to 1.
	ErrNotNormalized = errors.New("window weights do not sum to 1")
	// ErrEvenWindow is returned for a window without a central element.
	ErrEvenWindow = errors.New("moving average window has an even number of elements")
	// ErrWindowTooLong is returned when the window is not shorter than the series.
	ErrWindowTooLong = errors.New("moving average window is not shorter than the series")
)

// Window is an odd-length symmetric sequence of weights indexed -side..+side.
type Window []float64

// Len returns the number of weights.
func (w Window) Len() int { return len(w) }

// Side returns the half-width of the window.
func (w Window) Side() int { return (len(w) - 1) / 2 }

// Sum returns the total weight.
func (w Window) Sum() float64 { return floats.Sum(w) }

// Raw returns the unnormalized ramp: side weight at both edges rising
// linearly to the center weight in half steps on each arm.
func Raw(center, side float64, half int) (Window, error) {
	if half < 0 || center < 0 || side < 0 {
		return nil, fmt.Errorf("%w: center %g, side %g, half-width %d", ErrInvalidWeights, center, side, half)
	}
	if half == 0 {
		return Window{center}, nil
	}
	step := (center - side) / float64(half)
	w := make(Window, 2*half+1)
	for n := 0; n <= half; n++ {
		v := side + float64(n)*step
		w[n] = v
		w[2*half-n] = v
	}
	return w, nil
}

// Build returns a window of 2*half+1 weights normalized to sum to 1.
//
// Equal center and side weights give a uniform window. Otherwise the weights
// follow Raw. A zero half-width gives the single weight 1, a pass-through.
func Build(center, side float64, half int) (Window, error) {
	if half < 0 || center < 0 || side < 0 {
		return nil, fmt.Errorf("%w: center %g, side %g, half-width %d", ErrInvalidWeights, center, side, half)
	}
	if half == 0 {
		return Window{1}, nil
	}

	var w Window
	if center == side {
		if side == 0 {
			return nil, fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
		}
		n := 2*half + 1
		w = make(Window, n)
		for i := range w {
			w[i] = side / (side * float64(n))
		}
	} else {
		raw, err := Raw(center, side, half)
		if err != nil {
			return nil, err
		}
		total := raw.Sum()
		if total <= 0 {
			return nil, fmt.Errorf("%w: total weight %g", ErrInvalidWeights, total)
		}
		floats.Scale(1/total, raw)
		w = raw
	}

	if sum := w.Sum(); !scalar.EqualWithinAbs(sum, 1, SumTolerance) {
		return nil, fmt.Errorf("%w: sum %g", ErrNotNormalized, sum)
	}
	return w, nil
}

// Validate checks that w can be rolled over a series of n values.
func Validate(w Window, n int) error {
	if len(w)%2 != 1 {
		return fmt.Errorf("%w: length %d", ErrEvenWindow, len(w))
	}
	if len(w) >= n {
		return fmt.Errorf("%w: window %d, series %d", ErrWindowTooLong, len(w), n)
	}
	return nil
}
