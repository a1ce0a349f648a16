package timeseries

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrTimestamp marks a timestamp that could not be parsed. Timestamps anchor
// ordering, so this is always fatal for the load.
var ErrTimestamp = errors.New("invalid timestamp")

// RowError locates a fatal parse error within the input rows.
type RowError struct {
	Row  int // zero-based row index, header excluded
	Line int // one-based line in the source, 0 when unknown
	Text string
	Err  error
}

func (e *RowError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("row %d: %q: %v", e.Row, e.Text, e.Err)
}

func (e *RowError) Unwrap() []error { return []error{ErrTimestamp, e.Err} }

// FromRows builds a series from (timestamp, value) text pairs.
//
// A value that fails numeric parsing becomes NaN and is logged; a timestamp
// that fails to parse aborts the load with a *RowError.
func FromRows(rows iter.Seq2[string, string], codec Codec, logger *zap.Logger) (*Series, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Series{}
	row := 0
	invalid := 0
	for tsText, valText := range rows {
		t, err := codec.Parse(tsText)
		if err != nil {
			return nil, &RowError{Row: row, Text: tsText, Err: err}
		}
		v, err := parseValue(valText)
		if err != nil {
			invalid++
			logger.Warn("invalid measurement, stored as NaN",
				zap.Int("row", row),
				zap.String("timestamp", tsText),
				zap.String("value", valText))
			v = math.NaN()
		}
		s.Timestamps = append(s.Timestamps, t)
		s.Values = append(s.Values, v)
		row++
	}
	logger.Debug("series loaded", zap.Int("rows", row), zap.Int("invalid_values", invalid))
	return s, nil
}

func parseValue(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if text == "NaN" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(text, 64)
}

// FormatValue serialises a value; missing values use the literal NaN.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Rows returns the series as (timestamp, value) text pairs.
func (s *Series) Rows(codec Codec) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for i, t := range s.Timestamps {
			if !yield(codec.Format(t), FormatValue(s.Values[i])) {
				return
			}
		}
	}
}
