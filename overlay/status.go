package overlay

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Status is the information shown in the lower-left status line
type Status struct {
	FPS       float64
	People    int
	CacheAge  int64 // Frames since the detections were produced
	Refreshed bool  // Inference ran on this frame
	Stale     bool  // Last inference attempt failed
}

// Text formats the status line
func (s Status) Text() string {
	mode := "CACHED"
	if s.Refreshed {
		mode = "INFER"
	}
	if s.Stale {
		mode = "STALE"
	}
	return fmt.Sprintf("%.1f FPS | %d PEOPLE | %s +%d", s.FPS, s.People, mode, s.CacheAge)
}

// DrawStatus draws the status line in the lower-left corner of img
func (r *Renderer) DrawStatus(img *gocv.Mat, s Status) {
	if img == nil || img.Empty() {
		return
	}
	pos := image.Point{10, img.Rows() - 12}
	gocv.PutText(img, s.Text(), pos, gocv.FontHersheySimplex, 0.5, r.statusColor, 1)
}
