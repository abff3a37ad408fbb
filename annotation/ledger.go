// Package annotation keeps the activity boxes and command lines drawn over
// the chart. Entries are keyed by their controller timestamp so a
// re-delivered activity overwrites the earlier copy instead of duplicating it.
package annotation

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"aircomp/clock"
	"aircomp/models"
)

const (
	ActivityPrefix = "activity_id_"
	CommandPrefix  = "command_id_"

	percentScale = "percent"
)

// ActivityKey is the ledger key of an activity, e.g. "activity_id_5".
func ActivityKey(start float64) string {
	return ActivityPrefix + formatNumber(start)
}

// CommandKey is the ledger key of a command, e.g. "command_id_12.5".
func CommandKey(time float64) string {
	return CommandPrefix + formatNumber(time)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Ledger holds the chart annotations.
type Ledger struct {
	mu          sync.RWMutex
	annotations map[string]models.Annotation
}

func NewLedger() *Ledger {
	return &Ledger{annotations: make(map[string]models.Annotation)}
}

// UpsertActivity stores the box for an activity and returns it.
func (l *Ledger) UpsertActivity(a models.Activity, offsetMs float64, visible bool) models.Annotation {
	background, border := ActivityColours(a.Event)
	ann := models.Annotation{
		Key:             ActivityKey(a.Start),
		Kind:            models.AnnotationBox,
		Display:         visible,
		XMin:            clock.LocalMs(a.Start, offsetMs),
		XMax:            clock.LocalMs(a.Stop, offsetMs),
		YScale:          percentScale,
		BackgroundColor: background,
		BorderColor:     border,
		BorderWidth:     1,
		Event:           a.Event,
	}

	l.mu.Lock()
	l.annotations[ann.Key] = ann
	l.mu.Unlock()
	return ann
}

// UpsertCommand stores the line for a command. Commands without a style
// are dropped and false is returned.
func (l *Ledger) UpsertCommand(c models.Command, offsetMs float64, visible bool) (models.Annotation, bool) {
	style, ok := StyleForCommand(c.Command)
	if !ok {
		return models.Annotation{}, false
	}

	x := clock.LocalMs(c.Time, offsetMs)
	ann := models.Annotation{
		Key:             CommandKey(c.Time),
		Kind:            models.AnnotationLine,
		Display:         visible,
		XMin:            x,
		XMax:            x,
		YScale:          percentScale,
		BackgroundColor: models.RGBA{R: 255, G: 255, B: 255, A: 1},
		BorderColor:     style.Colour,
		BorderWidth:     style.Width,
		Label:           style.Label,
		Event:           c.Command,
	}

	l.mu.Lock()
	l.annotations[ann.Key] = ann
	l.mu.Unlock()
	return ann, true
}

func (l *Ledger) SetActivityVisibility(visible bool) int {
	return l.setVisibility(ActivityPrefix, visible)
}

func (l *Ledger) SetCommandVisibility(visible bool) int {
	return l.setVisibility(CommandPrefix, visible)
}

// setVisibility flips Display on every entry whose key has prefix and
// returns how many entries were touched.
func (l *Ledger) setVisibility(prefix string, visible bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, ann := range l.annotations {
		if strings.HasPrefix(key, prefix) {
			ann.Display = visible
			l.annotations[key] = ann
			n++
		}
	}
	return n
}

func (l *Ledger) Get(key string) (models.Annotation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ann, ok := l.annotations[key]
	return ann, ok
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.annotations)
}

// Snapshot returns every annotation ordered by key.
func (l *Ledger) Snapshot() []models.Annotation {
	l.mu.RLock()
	out := make([]models.Annotation, 0, len(l.annotations))
	for _, ann := range l.annotations {
		out = append(out, ann)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
