package timeseries

import (
	"fmt"
	"strings"
	"time"
)

// DateTimeLayout is the naive "%Y-%m-%d %H:%M:%S" profile written by the logger.
const DateTimeLayout = "2006-01-02 15:04:05"

// Codec converts timestamps to and from their canonical text form.
// A single codec is used for a whole run.
type Codec interface {
	Parse(text string) (time.Time, error)
	Format(t time.Time) string
}

// LayoutCodec is a Codec backed by a time layout.
// Layouts without a zone are interpreted in Location.
type LayoutCodec struct {
	Layout   string
	Location *time.Location
}

// Parse parses text with the codec layout, truncated to whole seconds.
func (c LayoutCodec) Parse(text string) (time.Time, error) {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(c.Layout, strings.TrimSpace(text), loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.Truncate(time.Second), nil
}

// Format formats t with the codec layout in the codec location.
func (c LayoutCodec) Format(t time.Time) string {
	if c.Location != nil {
		t = t.In(c.Location)
	}
	return t.Format(c.Layout)
}

// NaiveCodec returns the naive local profile used by the acquisition logger.
func NaiveCodec(loc *time.Location) Codec {
	return LayoutCodec{Layout: DateTimeLayout, Location: loc}
}

// RFC3339Codec returns the fixed-offset RFC3339 profile.
func RFC3339Codec() Codec {
	return LayoutCodec{Layout: time.RFC3339}
}

// CodecByName resolves "naive" or "rfc3339".
func CodecByName(name string, loc *time.Location) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "naive":
		return NaiveCodec(loc), nil
	case "rfc3339":
		return RFC3339Codec(), nil
	default:
		return nil, fmt.Errorf("unknown time format %q", name)
	}
}
