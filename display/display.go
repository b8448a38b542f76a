// Package display runs the capture, inference, render and present loop.
package display

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// FrameSource produces frames on demand
type FrameSource interface {
	// Read blocks until the next frame is copied into dst
	Read(dst *gocv.Mat) error
	Close() error
}

// Sink consumes annotated frames
type Sink interface {
	Present(img gocv.Mat)
	// PollQuit reports whether the user asked to stop. It must not block for long.
	PollQuit() bool
	Close() error
}

// ErrCapture marks a fatal frame source failure
var ErrCapture = errors.New("capture failed")

// CaptureError wraps a frame source failure. It terminates the loop.
type CaptureError struct {
	Frame int64 // Frame index the read was attempted for
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed at frame %d: %v", e.Frame, e.Err)
}

func (e *CaptureError) Unwrap() []error {
	return []error{ErrCapture, e.Err}
}

// State is the lifecycle state of a Loop
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
