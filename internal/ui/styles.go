// Package ui renders CLI output: colors for entity kinds and edge types.
package ui

import (
	"fmt"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent   = 74  // blue
	colorMuted    = 245 // medium gray
	colorClass    = 179 // amber
	colorMethod   = 114 // green
	colorEndpoint = 176 // violet
	colorWarn     = 209 // orange
)

var noColor bool

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

func paint(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns a command name in bold accent.
func RenderCommand(s string) string {
	if noColor {
		return s
	}
	return "\x1b[1m" + paint(colorAccent, s)
}

// RenderWarn returns s in the warning (orange) color.
func RenderWarn(s string) string { return paint(colorWarn, s) }

// RenderKey returns an entity key colored by its kind.
func RenderKey(kind model.Kind, key string) string {
	switch kind {
	case model.KindClass:
		return paint(colorClass, key)
	case model.KindMethod:
		return paint(colorMethod, key)
	case model.KindEndpoint:
		return paint(colorEndpoint, key)
	}
	return key
}

// KindTag returns a fixed-width tag for an entity kind, e.g. "[class]   ".
func KindTag(kind model.Kind) string {
	return RenderMuted(fmt.Sprintf("%-10s", "["+string(kind)+"]"))
}

// RenderEdge returns an edge type as an arrow label, e.g. "-CALLS->".
// Incoming edges point the other way.
func RenderEdge(t model.EdgeType, dir model.Direction) string {
	if dir == model.Incoming {
		return RenderMuted("<-" + string(t) + "-")
	}
	return RenderMuted("-" + string(t) + "->")
}
