package annotation

import "aircomp/models"

var (
	runningColour = [3]uint8{66, 245, 209}
	purgeColour   = [3]uint8{245, 212, 66}
	otherColour   = [3]uint8{230, 230, 230}
)

const (
	activityBackgroundAlpha = 0.25
	activityBorderAlpha     = 0.6
)

// CommandStyle is how a logged command is drawn as a vertical line.
type CommandStyle struct {
	Colour models.RGBA
	Width  float64
	Label  string
}

var commandStyles = map[string]CommandStyle{
	models.CommandOn:    {Colour: models.RGBA{R: 0, G: 255, B: 0, A: 1}, Width: 4, Label: "On"},
	models.CommandOff:   {Colour: models.RGBA{R: 255, G: 0, B: 0, A: 1}, Width: 4, Label: "Off"},
	models.CommandRun:   {Colour: models.RGBA{R: 0, G: 255, B: 0, A: 0.5}, Width: 1, Label: "Run"},
	models.CommandPause: {Colour: models.RGBA{R: 255, G: 0, B: 0, A: 0.5}, Width: 1, Label: "Pause"},
}

// ActivityColours returns the background and border colour of an activity box.
func ActivityColours(event string) (background, border models.RGBA) {
	c := otherColour
	switch event {
	case models.EventRunning:
		c = runningColour
	case models.EventPurge:
		c = purgeColour
	}
	background = models.RGBA{R: c[0], G: c[1], B: c[2], A: activityBackgroundAlpha}
	border = models.RGBA{R: c[0], G: c[1], B: c[2], A: activityBorderAlpha}
	return background, border
}

// StyleForCommand looks up the line style of a command code. Purge and
// unknown codes have no style and are not drawn.
func StyleForCommand(command string) (CommandStyle, bool) {
	s, ok := commandStyles[command]
	return s, ok
}
