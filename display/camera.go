package display

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"gocv.io/x/gocv"
)

// maxEmptyReads is how many consecutive empty frames a camera may return before Read fails
const maxEmptyReads = 30

var errEmptyFrames = errors.New("camera returned only empty frames")

// CameraSource reads frames from a gocv VideoCapture
type CameraSource struct {
	capture *gocv.VideoCapture
	device  string
	logger  *slog.Logger
}

// OpenCamera opens a camera index ("0") or a URL/file and applies the resolution hint.
// Non-positive width or height leave the device default.
func OpenCamera(device string, width, height int, logger *slog.Logger) (*CameraSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "camera")

	var target interface{} = device
	if id, err := strconv.Atoi(device); err == nil {
		target = id
	}
	capture, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, fmt.Errorf("failed to open video source %q: %w", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video source %q did not open", device)
	}

	if width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	// Keep at most one buffered frame so the display stays live
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	logger.Info("video source opened",
		"device", device,
		"width", capture.Get(gocv.VideoCaptureFrameWidth),
		"height", capture.Get(gocv.VideoCaptureFrameHeight))

	return &CameraSource{capture: capture, device: device, logger: logger}, nil
}

// Read copies the next non-empty frame into dst
func (c *CameraSource) Read(dst *gocv.Mat) error {
	for empty := 0; empty < maxEmptyReads; empty++ {
		if ok := c.capture.Read(dst); !ok {
			return fmt.Errorf("failed to read frame from %s", c.device)
		}
		if !dst.Empty() {
			return nil
		}
	}
	return fmt.Errorf("%s: %w after %d attempts", c.device, errEmptyFrames, maxEmptyReads)
}

func (c *CameraSource) Close() error {
	return c.capture.Close()
}
