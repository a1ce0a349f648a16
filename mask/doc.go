// Package mask implements the rules that mark invalid samples as missing.
//
// Every rule sets matching values to NaN in place and leaves timestamps
// untouched. Masking an already missing value is a no-op, so the rules are
// idempotent and can be applied in any order:
//
//	rep := mask.Apply(series, logger,
//	    mask.ErrorCode{Floor: 999994},
//	    mask.Range{Min: 13000, Max: 15000},
//	    &mask.BadTimestamps{Times: bad, Logger: logger},
//	    mask.DailyInterval{Start: start, Stop: stop},
//	)
//
// A bad timestamp that is not in the series is reported, not failed.
package mask
