package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"posecam/skeleton"

	"gocv.io/x/gocv"
)

// DefaultConfidenceThreshold is the keypoint confidence a point must exceed to be drawn
const DefaultConfidenceThreshold = 0.5

// maxCoordinate bounds keypoint coordinates handed to OpenCV. Anything larger cannot be
// a real detection and would overflow the int32 math inside the line clipper.
const maxCoordinate = 1 << 20

// ErrRender marks keypoint data that cannot be drawn safely
var ErrRender = errors.New("render error")

// RenderError describes one keypoint that was skipped while rendering
type RenderError struct {
	Person   int // Index into the DetectionSet
	Keypoint int // Keypoint index within the pose
	Reason   string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("person %d keypoint %s: %s", e.Person, skeleton.Name(e.Keypoint), e.Reason)
}

func (e *RenderError) Unwrap() error { return ErrRender }

// Renderer draws pose skeletons onto frames
type Renderer struct {
	jointColor    color.RGBA
	boneColors    map[skeleton.Group]color.RGBA
	statusColor   color.RGBA
	MarkerRadius  int
	LineThickness int
}

// NewRenderer creates a renderer with the default palette
func NewRenderer() *Renderer {
	return &Renderer{
		jointColor: color.RGBA{R: 0xff, G: 0x00, B: 0x00, A: 255}, // Red joints
		boneColors: map[skeleton.Group]color.RGBA{
			skeleton.GroupHead:      {R: 0x33, G: 0x99, B: 0xff, A: 255},
			skeleton.GroupShoulders: {R: 0xff, G: 0xff, B: 0x00, A: 255},
			skeleton.GroupArms:      {R: 0x00, G: 0xff, B: 0x00, A: 255}, // Military green
			skeleton.GroupTorso:     {R: 0xff, G: 0x80, B: 0x00, A: 255},
			skeleton.GroupLegs:      {R: 0xff, G: 0x33, B: 0xff, A: 255},
		},
		statusColor:   color.RGBA{R: 0x00, G: 0x96, B: 0xff, A: 255}, // System blue
		MarkerRadius:  4,
		LineThickness: 2,
	}
}

// Render draws every person in detections onto img in place. Keypoints are drawn only when
// their confidence is strictly above threshold, bones only when both ends are. Keypoints with
// unusable coordinates are skipped and reported as *RenderError values joined together;
// the rest of the skeleton is still drawn.
func (r *Renderer) Render(img *gocv.Mat, detections skeleton.DetectionSet, threshold float64) error {
	if len(detections) == 0 {
		return nil
	}
	if img == nil || img.Empty() {
		return fmt.Errorf("%w: empty frame", ErrRender)
	}

	var errs []error
	for person, pose := range detections {
		var points [skeleton.KeypointCount]image.Point
		var drawable [skeleton.KeypointCount]bool

		for i, kp := range pose {
			// Written as a negated > so NaN confidences are rejected too
			if !(kp.Confidence > threshold) {
				continue
			}
			pt, err := toPixel(kp)
			if err != nil {
				errs = append(errs, &RenderError{Person: person, Keypoint: i, Reason: err.Error()})
				continue
			}
			points[i] = pt
			drawable[i] = true
		}

		// Bones first so joints sit on top
		skeleton.Each(func(b skeleton.Bone) bool {
			if b.A < 0 || b.B < 0 || b.A >= len(pose) || b.B >= len(pose) {
				return true
			}
			if drawable[b.A] && drawable[b.B] {
				gocv.Line(img, points[b.A], points[b.B], r.boneColor(b.Group), r.LineThickness)
			}
			return true
		})

		for i, pt := range points {
			if drawable[i] {
				gocv.Circle(img, pt, r.MarkerRadius, r.jointColor, -1)
			}
		}
	}

	return errors.Join(errs...)
}

func (r *Renderer) boneColor(g skeleton.Group) color.RGBA {
	if c, ok := r.boneColors[g]; ok {
		return c
	}
	return r.jointColor
}

// toPixel rounds a keypoint to the nearest pixel
func toPixel(kp skeleton.Keypoint) (image.Point, error) {
	if math.IsNaN(kp.X) || math.IsNaN(kp.Y) || math.IsInf(kp.X, 0) || math.IsInf(kp.Y, 0) {
		return image.Point{}, fmt.Errorf("non-finite coordinate (%v, %v)", kp.X, kp.Y)
	}
	if math.Abs(kp.X) > maxCoordinate || math.Abs(kp.Y) > maxCoordinate {
		return image.Point{}, fmt.Errorf("coordinate (%.0f, %.0f) out of drawable range", kp.X, kp.Y)
	}
	return image.Pt(int(math.Round(kp.X)), int(math.Round(kp.Y))), nil
}
