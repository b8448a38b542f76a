package detection

import (
	"errors"
	"fmt"
	"time"

	"posecam/skeleton"

	"gocv.io/x/gocv"
)

// ErrInference marks a failed inference call. It is recoverable: the caller keeps using
// the last good DetectionSet.
var ErrInference = errors.New("inference failed")

// InferenceError wraps a failed inference call with the frame it was attempted on
type InferenceError struct {
	Frame int64
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed on frame %d: %v", e.Frame, e.Err)
}

// Unwrap lets errors.Is match both ErrInference and the underlying cause
func (e *InferenceError) Unwrap() []error {
	return []error{ErrInference, e.Err}
}

// InferFunc runs pose inference on one frame
type InferFunc func(frame gocv.Mat) (skeleton.DetectionSet, error)

// Provider defines the interface for pose inference engines
type Provider interface {
	Infer(frame gocv.Mat) (skeleton.DetectionSet, error)
	Close() error
	Info() ProviderInfo
}

// ProviderInfo contains information about the inference provider
type ProviderInfo struct {
	Type      string        // "ONNX", "fake", ...
	Backend   string        // "OpenCV CPU"
	Model     string        // Model file
	InputSize int           // Square network input size in pixels
	InitTime  time.Duration // Time taken to initialize
}

// Warmup performs a quick test inference on a blank frame to verify the provider works
// and to pay the first-call allocation cost before the display starts.
func Warmup(provider Provider, width, height int) error {
	testFrame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3)
	defer testFrame.Close()

	if _, err := provider.Infer(testFrame); err != nil {
		return fmt.Errorf("warmup inference failed: %w", err)
	}
	return nil
}
