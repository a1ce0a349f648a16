// Package impute fills and smooths a regular series with a weighted moving average.
//
// Every output position is recomputed from its neighborhood, whether its
// input was present or missing. A position is left as NaN when the window
// around it holds too many missing slots or too much missing weight;
// slots beyond either end of the series count as missing.
//
//	w, _ := window.Build(2, 1, 180)
//	im := &impute.Imputer{
//	    Window:              w,
//	    MaxMissingCount:     10000,
//	    MaxMissingWeightPct: 80, // allowed missing weight, percent of the total
//	    Logger:              logger,
//	}
//	smoothed, stats, err := im.Apply(repaired)
//
// The input must be regularly spaced, see package repair.
package impute
