// Package window builds symmetric weight windows for the moving average.
//
// A window has 2*side+1 weights with a true central element. Build
// normalizes the weights to sum to 1:
//
//	w, err := window.Build(2, 1, 180) // triangular, 361 weights
//	w, err := window.Build(1, 1, 5)   // uniform, 11 weights of 1/11
//
// Validate checks a window against the length of the series it will be
// rolled over.
package window
