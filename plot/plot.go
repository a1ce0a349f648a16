// Package plot renders a load series as an SVG chart.
//
// Each run of present values is drawn as its own filled area, so missing
// values show as breaks in the chart and are never bridged.
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"time"

	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Peruz/flintec-lpp/timeseries"
)

// ErrNothingToPlot is returned for a series without any present value.
var ErrNothingToPlot = errors.New("no values to plot")

// Options control the chart.
type Options struct {
	Title    string
	YLabel   string
	Width    vg.Length
	Height   vg.Length
	Location *time.Location // time zone of the axis labels, default Local
}

// Pixels converts a pixel count at 96 dpi to a vg length.
func Pixels(n int) vg.Length {
	return vg.Length(n) * vg.Inch / 96
}

// DefaultOptions returns a 1600x800 px chart of the load in kg.
func DefaultOptions() Options {
	return Options{
		YLabel: "load [kg]",
		Width:  Pixels(1600),
		Height: Pixels(800),
	}
}

var (
	fillColor   = color.RGBA{R: 255, A: 51}
	borderColor = color.Black
	gridColor   = color.Gray{Y: 150}
)

// SuitableFormat returns the time layout for the axis labels of a chart
// spanning span, and a readable form of it for the axis title.
func SuitableFormat(span time.Duration) (layout, label string) {
	switch {
	case span > 7*24*time.Hour:
		return "06-01-02", "yy-mm-dd"
	case span > 24*time.Hour:
		return "01-02 15", "mm-dd HH"
	default:
		return "02 15:04", "dd HH:MM"
	}
}

// Bounds returns the axis limits: 5% of the time span beyond each end and
// 10% of the value span above and below.
func Bounds(s *timeseries.Series) (xmin, xmax time.Time, ymin, ymax float64, err error) {
	if s.Len() == 0 || s.CountNaN() == s.Len() {
		return xmin, xmax, 0, 0, ErrNothingToPlot
	}
	first, last := s.First(), s.Last()
	xmargin := last.Sub(first) / 20
	if xmargin == 0 {
		xmargin = time.Minute
	}
	lo, hi := s.Min(), s.Max()
	ymargin := (hi - lo) / 10
	if ymargin == 0 {
		ymargin = 1
	}
	return first.Add(-xmargin), last.Add(xmargin), lo - ymargin, hi + ymargin, nil
}

// New builds the chart for s.
func New(s *timeseries.Series, opts Options) (*gplot.Plot, error) {
	xmin, xmax, ymin, ymax, err := Bounds(s)
	if err != nil {
		return nil, err
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	layout, label := SuitableFormat(s.Last().Sub(s.First()))

	p := gplot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = fmt.Sprintf("datetime [%s]", label)
	p.Y.Label.Text = opts.YLabel
	p.X.Min, p.X.Max = unix(xmin), unix(xmax)
	p.Y.Min, p.Y.Max = ymin, ymax
	p.X.Tick.Marker = gplot.TimeTicks{
		Format: layout,
		Time: func(t float64) time.Time {
			return time.Unix(0, int64(t*1e9)).In(loc)
		},
	}

	grid := plotter.NewGrid()
	grid.Vertical.Color = gridColor
	grid.Horizontal.Color = gridColor
	p.Add(grid)

	areas, err := Areas(s)
	if err != nil {
		return nil, err
	}
	for _, a := range areas {
		p.Add(a)
	}
	return p, nil
}

// Areas returns one filled line per segment of present values.
func Areas(s *timeseries.Series) ([]*plotter.Line, error) {
	var areas []*plotter.Line
	for _, seg := range s.Segments() {
		xys := make(plotter.XYs, len(seg.Values))
		for i := range seg.Values {
			xys[i].X = unix(seg.Timestamps[i])
			xys[i].Y = seg.Values[i]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("segment at %s: %w", seg.Timestamps[0].Format(timeseries.DateTimeLayout), err)
		}
		line.FillColor = fillColor
		line.Color = borderColor
		line.Width = vg.Points(1)
		areas = append(areas, line)
	}
	return areas, nil
}

// Render writes the SVG chart of s to w.
func Render(w io.Writer, s *timeseries.Series, opts Options) error {
	p, err := New(s, opts)
	if err != nil {
		return err
	}
	width, height := opts.Width, opts.Height
	if width == 0 || height == 0 {
		def := DefaultOptions()
		width, height = def.Width, def.Height
	}
	wt, err := p.WriterTo(width, height, "svg")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save renders s to the SVG file at path.
func Save(path string, s *timeseries.Series, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	if err := Render(f, s, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
