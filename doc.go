// Package flintec processes load-cell time series from a Flintec indicator.
//
// The load of a weighing lysimeter is logged every few minutes over telnet.
// Raw files carry error codes, readings outside the plausible range, gaps
// where the logger was down and periods disturbed by maintenance. The
// packages of this module turn such a file into a continuous, smoothed series.
//
// # Pipeline
//
//   - mask: set error codes, out-of-range values, listed bad timestamps and a
//     daily maintenance interval to NaN
//   - repair: insert NaN samples so that consecutive timestamps are exactly
//     one step apart
//   - impute: replace every value with the weighted moving average of its
//     neighbors, leaving NaN where too much of the window is missing
//
// # Quick Start
//
// Process a raw file:
//
//	series, _ := timeseries.LoadCSV("loadcells.csv", nil, logger)
//	p, _ := pipeline.New(pipeline.DefaultConfig(), nil, logger)
//	processed, report, _ := p.Run(series)
//	timeseries.SaveCSV(processed, "loadcells_processed.csv", timeseries.NaiveCodec(nil))
//
// Or from the command line:
//
//	flintec process -f loadcells.csv -s 180 -n 10000 -w 80 -t 09:00,10:30
//
// # Packages
//
//   - timeseries: series container, CSV and timestamp codecs
//   - window: symmetric weight windows
//   - mask: masking rules
//   - repair: continuity repair
//   - impute: weighted moving average imputation
//   - pipeline: configuration and the mask, repair, impute chain
//   - acquire: telnet acquisition loop
//   - plot: SVG charts
//   - server: HTTP processing endpoint
package flintec
