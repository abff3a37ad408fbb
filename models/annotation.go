package models

import "fmt"

type AnnotationKind string

const (
	AnnotationBox  AnnotationKind = "box"
	AnnotationLine AnnotationKind = "line"
)

// RGBA is a colour with alpha in [0,1].
type RGBA struct {
	R uint8   `json:"r"`
	G uint8   `json:"g"`
	B uint8   `json:"b"`
	A float64 `json:"a"`
}

// String renders the colour the way CSS writes it.
func (c RGBA) String() string {
	return fmt.Sprintf("rgba(%d, %d, %d, %g)", c.R, c.G, c.B, c.A)
}

// Annotation is a chart overlay. Boxes span XMin..XMax; lines have
// XMin == XMax. X values are local epoch milliseconds.
type Annotation struct {
	Key             string         `json:"key"`
	Kind            AnnotationKind `json:"kind"`
	Display         bool           `json:"display"`
	XMin            float64        `json:"x_min"`
	XMax            float64        `json:"x_max"`
	YScale          string         `json:"y_scale"`
	BackgroundColor RGBA           `json:"background_color"`
	BorderColor     RGBA           `json:"border_color"`
	BorderWidth     float64        `json:"border_width"`
	Label           string         `json:"label,omitempty"`
	Event           string         `json:"event,omitempty"`
}
