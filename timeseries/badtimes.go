package timeseries

import (
	"bufio"
	"io"
	"os"
	"slices"
	"strings"
	"time"
)

// ReadBadTimestamps reads one timestamp per line in the codec text form.
// Blank lines are ignored; any other malformed line is fatal. The result is
// sorted and free of duplicates.
func ReadBadTimestamps(r io.Reader, codec Codec) ([]time.Time, error) {
	var out []time.Time
	scanner := bufio.NewScanner(r)
	row := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			row++
			continue
		}
		t, err := codec.Parse(line)
		if err != nil {
			return nil, &RowError{Row: row, Line: row + 1, Text: line, Err: err}
		}
		out = append(out, t)
		row++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(out, time.Time.Equal), nil
}

// LoadBadTimestamps reads bad timestamps from a file.
func LoadBadTimestamps(filename string, codec Codec) ([]time.Time, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadBadTimestamps(file, codec)
}
