// Package repair restores regular time spacing in a load series.
//
// The canonical step is the minimal delta observed in the input, which is
// robust to a source that sometimes reports faster than its nominal
// interval. Every missing grid point becomes a NaN sample:
//
//	repaired, res, err := repair.Repair(series, logger)
//	if err != nil {
//	    return err // too short, or not strictly ascending
//	}
//	if err := repair.CheckContinuous(repaired, res.Step); err != nil {
//	    return err // deltas that are not multiples of the step
//	}
package repair
