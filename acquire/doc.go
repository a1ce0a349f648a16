// Package acquire logs a load-cell indicator over telnet.
//
// A Logger connects to the indicator, waits for the first tick rounded to the
// reading interval and then, once per tick, sends the GN or GA command and
// appends a row to the acquisition file:
//
//	datetime,weight_kg,raw_reading
//	2021-03-01 08:00:00,14012.5,N  14012.5
//	2021-03-01 08:02:00,999998,E+999998.
//
// Failed exchanges are stored as error codes rather than dropped, so the file
// keeps one row per tick. Ticks that pass while the connection is being
// restored are written with the skipped code.
package acquire
