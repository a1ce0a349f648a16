package timeseries

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// CSVOptions holds options for CSV loading.
type CSVOptions struct {
	TimeColumn  string // Column name for timestamps (default: first column)
	ValueColumn string // Column name for values (default: "load_kg", else second column)
	HasHeader   bool   // Whether CSV has header row (default: true)
	Delimiter   rune   // Field delimiter (default: ',')
	Codec       Codec  // Timestamp codec (default: naive local profile)
}

// DefaultCSVOptions returns default options for CSV loading.
func DefaultCSVOptions() *CSVOptions {
	return &CSVOptions{
		ValueColumn: "load_kg",
		HasHeader:   true,
		Delimiter:   ',',
		Codec:       NaiveCodec(nil),
	}
}

// LoadCSV loads a series from a CSV file.
func LoadCSV(filename string, opts *CSVOptions, logger *zap.Logger) (*Series, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadCSV(file, opts, logger)
}

// ReadCSV loads a series from an io.Reader.
//
// Records that cannot be read are skipped and logged. Value and timestamp
// parsing follow FromRows.
func ReadCSV(r io.Reader, opts *CSVOptions, logger *zap.Logger) (*Series, error) {
	if opts == nil {
		opts = DefaultCSVOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := opts.Codec
	if codec == nil {
		codec = NaiveCodec(nil)
	}

	reader := csv.NewReader(r)
	reader.Comma = opts.Delimiter
	if reader.Comma == 0 {
		reader.Comma = ','
	}
	reader.TrimLeadingSpace = true
	// The logger appends a raw reading column; skipped rows have only two.
	reader.FieldsPerRecord = -1

	timeIdx, valueIdx := 0, 1
	if opts.HasHeader {
		header, err := reader.Read()
		if err != nil {
			return nil, err
		}
		for i, h := range header {
			h = strings.TrimSpace(strings.Trim(h, "\""))
			switch {
			case opts.TimeColumn != "" && h == opts.TimeColumn:
				timeIdx = i
			case opts.ValueColumn != "" && h == opts.ValueColumn:
				valueIdx = i
			}
		}
	}

	var readErr error
	line := 0
	rows := func(yield func(string, string) bool) {
		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				logger.Warn("could not read line, skipped", zap.Int("line", perr.Line), zap.Error(err))
				continue
			}
			if err != nil {
				readErr = err
				return
			}
			if timeIdx >= len(record) || valueIdx >= len(record) {
				line, _ := reader.FieldPos(0)
				logger.Warn("short record, skipped", zap.Int("line", line), zap.Int("fields", len(record)))
				continue
			}
			line, _ = reader.FieldPos(timeIdx)
			if !yield(record[timeIdx], record[valueIdx]) {
				return
			}
		}
	}

	series, err := FromRows(rows, codec, logger)
	if err != nil {
		var re *RowError
		if errors.As(err, &re) {
			re.Line = line
		}
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	return series, nil
}

// SaveCSV saves a series to a CSV file.
func SaveCSV(series *Series, filename string, codec Codec) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteCSV(file, series, codec); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteCSV writes the datetime and load columns; missing values are written as NaN.
func WriteCSV(w io.Writer, series *Series, codec Codec) error {
	writer := bufio.NewWriter(w)

	if _, err := writer.WriteString("datetime,load_kg\n"); err != nil {
		return err
	}
	for ts, v := range series.Rows(codec) {
		writer.WriteString(ts)
		writer.WriteString(",")
		writer.WriteString(v)
		writer.WriteString("\n")
	}

	return writer.Flush()
}
