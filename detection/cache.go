package detection

import (
	"errors"
	"fmt"

	"posecam/skeleton"

	"gocv.io/x/gocv"
)

// DefaultSkipInterval runs inference on every second frame
const DefaultSkipInterval = 2

var (
	// ErrInvalidSkipInterval is returned for a skip interval below 1
	ErrInvalidSkipInterval = errors.New("skip interval must be at least 1")

	// ErrFrameOutOfOrder is returned when a refresh is requested for a frame older than
	// the cached result
	ErrFrameOutOfOrder = errors.New("frame index older than cached detections")
)

// Cache amortizes inference by refreshing the detections only every skipInterval frames
// and reusing the last result in between. It holds exactly one DetectionSet and is not
// safe for concurrent use; the display loop is its only caller.
type Cache struct {
	skipInterval int64
	cached       skeleton.CachedDetection
	valid        bool // At least one inference has succeeded
}

// NewCache creates an empty cache
func NewCache(skipInterval int) (*Cache, error) {
	if skipInterval < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSkipInterval, skipInterval)
	}
	return &Cache{skipInterval: int64(skipInterval)}, nil
}

// SkipInterval returns the refresh period in frames
func (c *Cache) SkipInterval() int {
	return int(c.skipInterval)
}

// ShouldRefresh reports whether frameIndex triggers a fresh inference
func (c *Cache) ShouldRefresh(frameIndex int64) bool {
	return !c.valid || frameIndex%c.skipInterval == 0
}

// Detections returns the detection set to draw on frame. When frameIndex triggers a
// refresh, infer is called and its result cached; refreshed reports whether that happened
// successfully. If infer fails the previous set is returned unchanged together with an
// *InferenceError, and the cache is left as it was.
func (c *Cache) Detections(frame gocv.Mat, frameIndex int64, infer InferFunc) (dets skeleton.DetectionSet, refreshed bool, err error) {
	if !c.ShouldRefresh(frameIndex) {
		return c.cached.Detections, false, nil
	}
	if c.valid && frameIndex < c.cached.ProducedAtFrame {
		return c.cached.Detections, false, &InferenceError{Frame: frameIndex, Err: ErrFrameOutOfOrder}
	}

	result, err := infer(frame)
	if err != nil {
		return c.cached.Detections, false, &InferenceError{Frame: frameIndex, Err: err}
	}
	if result == nil {
		result = skeleton.DetectionSet{}
	}

	c.cached = skeleton.CachedDetection{Detections: result, ProducedAtFrame: frameIndex}
	c.valid = true
	return result, true, nil
}

// Last returns the cached detections, if any inference has succeeded yet
func (c *Cache) Last() (skeleton.CachedDetection, bool) {
	return c.cached, c.valid
}

