package simulator

import (
	"fmt"
	"sort"

	"simfleet/hostinfo"
	"simfleet/model"
)

const (
	gridColumns  = 4
	menubarSize  = 30
	windowMargin = 10
)

// WindowPlacement is where one agent window goes, in points with the origin at
// the lower left corner.
type WindowPlacement struct {
	X     int
	Y     int
	Scale float64
}

// Center renders the placement the way the simulator app stores it.
func (w WindowPlacement) Center() string {
	return fmt.Sprintf("{%d, %d}", w.X, w.Y)
}

// GridLayout arranges count windows of device on a grid with a fixed number of
// columns. Every window gets the same scale, chosen so the largest screen
// dimension fits its cell with a margin on each side.
func GridLayout(resolution hostinfo.Resolution, device model.Device, count int) []WindowPlacement {
	if count <= 0 {
		return nil
	}
	columns := gridColumns
	if count < columns {
		columns = count
	}
	rows := (count + columns - 1) / columns

	cellWidth := resolution.Width / columns
	cellHeight := (resolution.Height - menubarSize) / rows

	width, height := device.PointSize()
	largest := height
	if width > largest {
		largest = width
	}
	scaleW := float64(cellWidth-2*windowMargin) / float64(largest)
	scaleH := float64(cellHeight-2*windowMargin) / float64(largest)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	if scale > 1 {
		scale = 1
	}

	placements := make([]WindowPlacement, count)
	for i := range placements {
		column := i % columns
		row := i / columns
		placements[i] = WindowPlacement{
			X:     column*cellWidth + cellWidth/2,
			Y:     resolution.Height - menubarSize - row*cellHeight - cellHeight/2,
			Scale: scale,
		}
	}
	return placements
}

// WindowsReady reports whether there is one window per agent, all the same
// size and none overlapping.
func WindowsReady(locations []WindowLocation, agents int) bool {
	if len(locations) != agents {
		return false
	}
	if len(locations) == 0 {
		return true
	}

	sorted := append([]WindowLocation(nil), locations...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y < sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})
	for i, a := range sorted {
		if a.Height != sorted[0].Height || a.Width != sorted[0].Width {
			return false
		}
		for _, b := range sorted[i+1:] {
			if overlaps(a, b) {
				return false
			}
		}
	}
	return true
}

func overlaps(a, b WindowLocation) bool {
	return a.X < b.X+b.Width && b.X < a.X+a.Width &&
		a.Y < b.Y+b.Height && b.Y < a.Y+a.Height
}
