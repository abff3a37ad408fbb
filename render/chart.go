// Package render turns the reconciled model into PNG images with go-chart.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"go.uber.org/zap"

	"aircomp/clock"
	"aircomp/models"
)

// ErrNoData is returned when there is nothing to plot yet.
var ErrNoData = errors.New("no chart data")

var (
	tankColour = drawing.ColorFromHex("FF0000")
	lineColour = drawing.ColorFromHex("FFFF00")
	dutyColour = drawing.Color{R: 75, G: 192, B: 192, A: 255}
)

// Chart is the scrolling pressure/duty chart. It keeps its own view of the
// points and annotations it has been given and only redraws when asked.
type Chart struct {
	mu          sync.RWMutex
	width       int
	height      int
	retention   float64
	points      []models.SeriesPoint
	domainMin   float64
	domainMax   float64
	annotations map[string]models.Annotation
	visible     [models.DatasetCount]bool
	image       []byte
	redraws     int
	logger      *zap.Logger
}

// NewChart creates a chart drawn at width x height. Points older than
// retention before the domain start are dropped from the view.
func NewChart(width, height int, retention time.Duration, logger *zap.Logger) *Chart {
	c := &Chart{
		width:       width,
		height:      height,
		retention:   float64(retention.Milliseconds()),
		annotations: make(map[string]models.Annotation),
		logger:      logger,
	}
	for i := range c.visible {
		c.visible[i] = true
	}
	return c
}

// AppendPoints adds ascending points. Points at or before the current
// tail are dropped so the series stays sorted.
func (c *Chart) AppendPoints(points []models.SeriesPoint) {
	if len(points) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range points {
		if n := len(c.points); n > 0 && p.Time <= c.points[n-1].Time {
			continue
		}
		c.points = append(c.points, p)
	}
}

func (c *Chart) SetDomain(minMs, maxMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.domainMin, c.domainMax = minMs, maxMs

	if c.retention > 0 {
		cutoff := minMs - c.retention
		i := sort.Search(len(c.points), func(i int) bool { return c.points[i].Time >= cutoff })
		if i > 0 {
			c.points = append([]models.SeriesPoint(nil), c.points[i:]...)
		}
	}
}

// Domain returns the visible time window in local epoch milliseconds.
func (c *Chart) Domain() (float64, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.domainMin, c.domainMax
}

func (c *Chart) UpsertAnnotation(key string, spec models.Annotation) {
	c.mu.Lock()
	c.annotations[key] = spec
	c.mu.Unlock()
}

func (c *Chart) SetAnnotationVisible(keyPrefix string, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ann := range c.annotations {
		if strings.HasPrefix(key, keyPrefix) {
			ann.Display = visible
			c.annotations[key] = ann
		}
	}
}

func (c *Chart) SetDatasetVisible(index int, visible bool) {
	if index < 0 || index >= models.DatasetCount {
		return
	}
	c.mu.Lock()
	c.visible[index] = visible
	c.mu.Unlock()
}

func (c *Chart) DatasetVisible(index int) bool {
	if index < 0 || index >= models.DatasetCount {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visible[index]
}

// Redraw renders the chart at its configured size and keeps the image.
// Having nothing to plot is not an error.
func (c *Chart) Redraw() error {
	var buf bytes.Buffer
	err := c.Render(&buf, c.width, c.height)
	if errors.Is(err, ErrNoData) {
		return nil
	}
	if err != nil {
		c.logger.Error("Failed to redraw chart", zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.image = buf.Bytes()
	c.redraws++
	c.mu.Unlock()
	return nil
}

// Image returns the PNG produced by the last Redraw.
func (c *Chart) Image() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.image, c.image != nil
}

func (c *Chart) Redraws() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.redraws
}

// Render draws the current view as a PNG of the given size.
func (c *Chart) Render(w io.Writer, width, height int) error {
	ch, err := c.build(width, height)
	if err != nil {
		return err
	}
	if err := ch.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

func (c *Chart) build(width, height int) (chart.Chart, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.domainMax <= c.domainMin {
		return chart.Chart{}, ErrNoData
	}

	var series []chart.Series
	series = append(series, c.annotationSeries()...)
	series = append(series, c.datasetSeries()...)
	if len(series) == 0 {
		return chart.Chart{}, ErrNoData
	}

	return chart.Chart{
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20}},
		XAxis: chart.XAxis{
			Name:           "Time",
			Range:          &chart.ContinuousRange{Min: c.domainMin, Max: c.domainMax},
			ValueFormatter: timeFormatter,
		},
		YAxis: chart.YAxis{
			Name:  "Pounds per Square Inch",
			Range: &chart.ContinuousRange{Min: 0, Max: 150},
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Percent",
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
			ValueFormatter: percentFormatter,
		},
		Series: series,
	}, nil
}

// datasetSeries must be called with c.mu held.
func (c *Chart) datasetSeries() []chart.Series {
	lo := sort.Search(len(c.points), func(i int) bool { return c.points[i].Time >= c.domainMin })
	hi := sort.Search(len(c.points), func(i int) bool { return c.points[i].Time > c.domainMax })
	window := c.points[lo:hi]
	if len(window) == 0 {
		return nil
	}

	xs := make([]float64, len(window))
	tank := make([]float64, len(window))
	line := make([]float64, len(window))
	duty := make([]float64, len(window))
	for i, p := range window {
		xs[i], tank[i], line[i], duty[i] = p.Time, p.TankPressure, p.LinePressure, p.Duty
	}

	var out []chart.Series
	if c.visible[models.DatasetTankPressure] {
		out = append(out, chart.ContinuousSeries{
			Name:    models.DatasetNames[models.DatasetTankPressure],
			XValues: xs,
			YValues: tank,
			Style:   chart.Style{StrokeColor: tankColour, StrokeWidth: 2},
		})
	}
	if c.visible[models.DatasetLinePressure] {
		out = append(out, chart.ContinuousSeries{
			Name:    models.DatasetNames[models.DatasetLinePressure],
			XValues: xs,
			YValues: line,
			Style:   chart.Style{StrokeColor: lineColour, StrokeWidth: 2},
		})
	}
	if c.visible[models.DatasetDuty] {
		out = append(out, chart.ContinuousSeries{
			Name:    models.DatasetNames[models.DatasetDuty],
			YAxis:   chart.YAxisSecondary,
			XValues: xs,
			YValues: duty,
			Style:   chart.Style{StrokeColor: dutyColour, StrokeWidth: 2},
		})
	}
	return out
}

// annotationSeries must be called with c.mu held. Boxes fill the percent
// axis between their x bounds; lines are vertical strokes with a label.
func (c *Chart) annotationSeries() []chart.Series {
	keys := make([]string, 0, len(c.annotations))
	for key := range c.annotations {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []chart.Series
	for _, key := range keys {
		ann := c.annotations[key]
		if !ann.Display || ann.XMax < c.domainMin || ann.XMin > c.domainMax {
			continue
		}
		xMin := max(ann.XMin, c.domainMin)
		xMax := min(ann.XMax, c.domainMax)

		switch ann.Kind {
		case models.AnnotationBox:
			out = append(out, chart.ContinuousSeries{
				YAxis:   chart.YAxisSecondary,
				XValues: []float64{xMin, xMax},
				YValues: []float64{100, 100},
				Style: chart.Style{
					StrokeColor: colour(ann.BorderColor),
					StrokeWidth: ann.BorderWidth,
					FillColor:   colour(ann.BackgroundColor),
				},
			})
		case models.AnnotationLine:
			out = append(out,
				chart.ContinuousSeries{
					YAxis:   chart.YAxisSecondary,
					XValues: []float64{xMin, xMin},
					YValues: []float64{0, 100},
					Style:   chart.Style{StrokeColor: colour(ann.BorderColor), StrokeWidth: ann.BorderWidth},
				},
				chart.AnnotationSeries{
					YAxis: chart.YAxisSecondary,
					Style: chart.Style{
						StrokeColor: colour(ann.BorderColor),
						StrokeWidth: 2,
						FontColor:   colour(ann.BorderColor),
						FillColor:   colour(ann.BackgroundColor),
					},
					Annotations: []chart.Value2{{XValue: xMin, YValue: 100, Label: ann.Label}},
				},
			)
		}
	}
	return out
}

func colour(c models.RGBA) drawing.Color {
	return drawing.Color{R: c.R, G: c.G, B: c.B, A: uint8(c.A*255 + 0.5)}
}

func timeFormatter(v interface{}) string {
	if ms, ok := v.(float64); ok {
		return clock.Time(ms).Format("15:04:05")
	}
	return ""
}

func percentFormatter(v interface{}) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%.0f%%", f)
	}
	return ""
}
