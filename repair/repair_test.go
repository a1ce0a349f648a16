package repair

import (
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Peruz/flintec-lpp/timeseries"
)

var t0 = time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)

const d = 2 * time.Minute

func at(steps ...int) []time.Time {
	out := make([]time.Time, len(steps))
	for i, k := range steps {
		out[i] = t0.Add(time.Duration(k) * d)
	}
	return out
}

func TestRepairFillsGap(t *testing.T) {
	// The step is inferred from the tail; the head has a 3d gap.
	s, _ := timeseries.NewWithTimestamps(at(0, 3, 4, 5), []float64{5, 7, 8, 9})

	r, res, err := Repair(s, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}

	if res.Step != d {
		t.Errorf("Expected step %v, got %v", d, res.Step)
	}
	if res.Inserted != 2 || res.Gaps != 1 {
		t.Errorf("Expected 2 inserted in 1 gap, got %+v", res)
	}

	want := at(0, 1, 2, 3, 4, 5)
	if r.Len() != len(want) {
		t.Fatalf("Expected length %d, got %d", len(want), r.Len())
	}
	for i, ts := range want {
		if !r.Timestamps[i].Equal(ts) {
			t.Errorf("Timestamp %d: expected %v, got %v", i, ts, r.Timestamps[i])
		}
	}
	if r.Values[0] != 5 || r.Values[3] != 7 {
		t.Errorf("Expected original values kept, got %v", r.Values)
	}
	if !math.IsNaN(r.Values[1]) || !math.IsNaN(r.Values[2]) {
		t.Errorf("Expected NaN at synthesized slots, got %v", r.Values)
	}
	if err := CheckContinuous(r, res.Step); err != nil {
		t.Errorf("Expected continuous result, got %v", err)
	}
	if r.Len() != ExpectedLen(s.First(), s.Last(), res.Step) {
		t.Errorf("Expected length %d, got %d", ExpectedLen(s.First(), s.Last(), res.Step), r.Len())
	}
}

func TestRepairIsIdempotent(t *testing.T) {
	s, _ := timeseries.NewWithTimestamps(at(0, 1, 4, 5, 9), []float64{1, 2, 3, math.NaN(), 5})

	once, _, err := Repair(s, nil)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	twice, res, err := Repair(once, nil)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}

	if res.Inserted != 0 {
		t.Errorf("Expected nothing inserted on second pass, got %d", res.Inserted)
	}
	if once.Len() != twice.Len() {
		t.Fatalf("Expected length %d, got %d", once.Len(), twice.Len())
	}
	for i := range once.Values {
		if !once.Timestamps[i].Equal(twice.Timestamps[i]) {
			t.Errorf("Timestamp %d changed", i)
		}
		a, b := once.Values[i], twice.Values[i]
		if math.IsNaN(a) != math.IsNaN(b) || (!math.IsNaN(a) && a != b) {
			t.Errorf("Value %d changed: %f vs %f", i, a, b)
		}
	}
}

func TestRepairDoesNotAliasInput(t *testing.T) {
	s, _ := timeseries.NewWithTimestamps(at(0, 1, 2), []float64{1, 2, 3})

	r, _, err := Repair(s, nil)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	r.Values[0] = 100

	if s.Values[0] != 1 {
		t.Errorf("Repair output shares storage with its input")
	}
}

func TestRepairErrors(t *testing.T) {
	short, _ := timeseries.NewWithTimestamps(at(0), []float64{1})
	if _, _, err := Repair(short, nil); !errors.Is(err, timeseries.ErrTooShort) {
		t.Errorf("Expected ErrTooShort, got %v", err)
	}

	unordered, _ := timeseries.NewWithTimestamps(at(0, 2, 1), []float64{1, 2, 3})
	_, _, err := Repair(unordered, nil)
	var oe *timeseries.OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("Expected *OrderError, got %v", err)
	}
	if oe.Index != 2 {
		t.Errorf("Expected offending index 2, got %d", oe.Index)
	}

	dup, _ := timeseries.NewWithTimestamps(at(0, 1, 1), []float64{1, 2, 3})
	if _, _, err := Repair(dup, nil); !errors.Is(err, timeseries.ErrNotAscending) {
		t.Errorf("Expected ErrNotAscending for duplicates, got %v", err)
	}
}

func TestCheckContinuousIrregular(t *testing.T) {
	// Deltas of 2 and 3 minutes: the 3 minute interval cannot be
	// tiled with 2 minute steps.
	times := []time.Time{t0, t0.Add(2 * time.Minute), t0.Add(5 * time.Minute)}
	s, _ := timeseries.NewWithTimestamps(times, []float64{1, 2, 3})

	r, res, err := Repair(s, nil)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}

	err = CheckContinuous(r, res.Step)
	var de *DiscontinuityError
	if !errors.As(err, &de) {
		t.Fatalf("Expected *DiscontinuityError, got %v", err)
	}
	if de.Delta != time.Minute || de.Step != 2*time.Minute {
		t.Errorf("Unexpected discontinuity: %+v", de)
	}
	if !errors.Is(err, ErrDiscontinuity) {
		t.Errorf("Expected error to wrap ErrDiscontinuity")
	}
}

func TestExpectedLen(t *testing.T) {
	if n := ExpectedLen(t0, t0.Add(10*d), d); n != 11 {
		t.Errorf("Expected 11, got %d", n)
	}
	if n := ExpectedLen(t0, t0, d); n != 1 {
		t.Errorf("Expected 1, got %d", n)
	}
	if n := ExpectedLen(t0, t0.Add(d), 0); n != 0 {
		t.Errorf("Expected 0 for zero step, got %d", n)
	}
}
