package render

import (
	"fmt"
	"io"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"aircomp/gauge"
)

// Drawable is anything that paints itself onto a gauge canvas.
type Drawable interface {
	Draw(c gauge.Canvas, width, height int)
}

// GaugePNG draws g onto a white PNG canvas of the given size.
func GaugePNG(w io.Writer, g Drawable, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid gauge size %dx%d", width, height)
	}

	r, err := chart.PNG(width, height)
	if err != nil {
		return fmt.Errorf("failed to create canvas: %w", err)
	}
	font, err := chart.GetDefaultFont()
	if err != nil {
		return fmt.Errorf("failed to load font: %w", err)
	}
	r.SetFont(font)

	r.SetFillColor(drawing.ColorWhite)
	r.SetStrokeWidth(0)
	r.MoveTo(0, 0)
	r.LineTo(width, 0)
	r.LineTo(width, height)
	r.LineTo(0, height)
	r.Close()
	r.Fill()

	g.Draw(r, width, height)

	if err := r.Save(w); err != nil {
		return fmt.Errorf("failed to encode gauge: %w", err)
	}
	return nil
}
