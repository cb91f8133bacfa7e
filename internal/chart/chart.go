// Package chart renders per-instrument price and moving average charts.
package chart

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"cryptobot/internal/history"
)

const (
	timeLayout  = "2006-01-02 15:04"
	chartWidth  = 12 * vg.Inch
	chartHeight = 5 * vg.Inch
)

type Writer struct {
	dir string
	csv bool
}

type Option func(*Writer)

// WithCSV also writes the plotted series as CSV next to the PNG.
func WithCSV() Option {
	return func(w *Writer) {
		w.csv = true
	}
}

func NewWriter(dir string, opts ...Option) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create charts dir: %w", err)
	}
	w := &Writer{dir: dir}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Writer) base(instrument string) string {
	slug := strings.ToLower(strings.NewReplacer("/", "-", " ", "-").Replace(instrument))
	return filepath.Join(w.dir, "chart-"+slug+"-sma")
}

// Path is the PNG the instrument's chart is rendered to.
func (w *Writer) Path(instrument string) string {
	return w.base(instrument) + ".png"
}

func (w *Writer) CSVPath(instrument string) string {
	return w.base(instrument) + ".csv"
}

// Write replaces the instrument's chart with the given samples. An empty
// series leaves the previous chart in place.
func (w *Writer) Write(instrument string, samples []history.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	png, err := render(instrument, samples)
	if err != nil {
		return fmt.Errorf("render chart %s: %w", instrument, err)
	}
	if err := replaceFile(w.Path(instrument), png); err != nil {
		return fmt.Errorf("write chart %s: %w", instrument, err)
	}
	if !w.csv {
		return nil
	}
	data, err := encodeCSV(samples)
	if err != nil {
		return fmt.Errorf("encode chart data %s: %w", instrument, err)
	}
	if err := replaceFile(w.CSVPath(instrument), data); err != nil {
		return fmt.Errorf("write chart data %s: %w", instrument, err)
	}
	return nil
}

func render(instrument string, samples []history.Sample) ([]byte, error) {
	price := make(plotter.XYs, 0, len(samples))
	var fast, slow plotter.XYs
	for _, s := range samples {
		x := float64(s.Timestamp.Unix())
		price = append(price, plotter.XY{X: x, Y: s.Price})
		if s.SMAFast != nil {
			fast = append(fast, plotter.XY{X: x, Y: *s.SMAFast})
		}
		if s.SMASlow != nil {
			slow = append(slow, plotter.XY{X: x, Y: *s.SMASlow})
		}
	}

	p := plot.New()
	p.Title.Text = instrument
	p.X.Label.Text = "time (UTC)"
	p.Y.Label.Text = "price"
	p.X.Tick.Marker = plot.TimeTicks{Format: timeLayout}
	p.Add(plotter.NewGrid())

	lines := []interface{}{"price", price}
	if len(fast) > 0 {
		lines = append(lines, "sma fast", fast)
	}
	if len(slow) > 0 {
		lines = append(lines, "sma slow", slow)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return nil, err
	}

	wt, err := p.WriterTo(chartWidth, chartHeight, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCSV(samples []history.Sample) ([]byte, error) {
	var buf bytes.Buffer
	out := csv.NewWriter(&buf)
	_ = out.Write([]string{"timestamp", "price", "sma_fast", "sma_slow"})
	for _, s := range samples {
		_ = out.Write([]string{
			s.Timestamp.UTC().Format(timeLayout),
			strconv.FormatFloat(s.Price, 'f', -1, 64),
			formatOptional(s.SMAFast),
			formatOptional(s.SMASlow),
		})
	}
	out.Flush()
	return buf.Bytes(), out.Error()
}

func replaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

// ParseTime reads a timestamp written to the CSV data.
func ParseTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}
