// Package timeseries provides the load series container and its text codecs.
//
// A Series binds timestamps to values one to one. NaN marks a timestamp
// without a valid measurement; it is never dropped silently, so that gaps
// survive every stage and can break the drawn line in charts.
//
// # Creating a Series
//
//	series, err := timeseries.NewWithTimestamps(times, values)
//
// # Loading from CSV
//
// The acquisition logger writes "datetime,weight_kg,raw_reading" rows with
// naive local timestamps:
//
//	opts := timeseries.DefaultCSVOptions()
//	opts.ValueColumn = "weight_kg"
//	series, err := timeseries.LoadCSV("loadcells.csv", opts, logger)
//
// A value that cannot be parsed becomes NaN and is logged. A timestamp that
// cannot be parsed stops the load with a *RowError, since the sample cannot
// be placed in time.
//
// # Timestamp Codecs
//
// The same series can be read and written with the naive
// "2006-01-02 15:04:05" profile or with RFC3339:
//
//	codec, err := timeseries.CodecByName("rfc3339", nil)
//	for ts, v := range series.Rows(codec) {
//	    fmt.Println(ts, v)
//	}
//
// # Ordering
//
//	if err := series.CheckOrdered(); err != nil {
//	    var oe *timeseries.OrderError
//	    errors.As(err, &oe) // oe.Index locates the offending sample
//	}
//
// # Plotting
//
// Segments splits the series on NaN, one segment per drawn area.
package timeseries
