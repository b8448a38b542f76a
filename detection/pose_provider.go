package detection

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"posecam/skeleton"

	"gocv.io/x/gocv"
)

// YOLOv8-pose output rows: cx, cy, w, h, score, then x, y, visibility per keypoint
const (
	boxAttributes  = 5
	poseAttributes = boxAttributes + skeleton.KeypointCount*3
)

// PoseOptions configures a PoseProvider
type PoseOptions struct {
	ModelPath      string
	InputSize      int     // Square network input, e.g. 640
	ScoreThreshold float32 // Minimum person score before NMS
	NMSThreshold   float32 // IoU threshold for non maximum suppression
}

// PoseProvider runs a YOLOv8-pose ONNX model through the OpenCV DNN module
type PoseProvider struct {
	net    gocv.Net
	opts   PoseOptions
	info   ProviderInfo
	logger *slog.Logger
	mu     sync.Mutex
}

// NewPoseProvider loads the model at opts.ModelPath
func NewPoseProvider(opts PoseOptions, logger *slog.Logger) (*PoseProvider, error) {
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("invalid inference input size %d", opts.InputSize)
	}
	if logger == nil {
		logger = slog.Default()
	}

	startTime := time.Now()
	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load pose network from %s", opts.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	p := &PoseProvider{
		net:    net,
		opts:   opts,
		logger: logger.With("component", "provider"),
		info: ProviderInfo{
			Type:      "ONNX",
			Backend:   "OpenCV CPU",
			Model:     opts.ModelPath,
			InputSize: opts.InputSize,
			InitTime:  time.Since(startTime),
		},
	}
	p.logger.Info("pose provider initialized", "model", opts.ModelPath, "input", opts.InputSize, "init", p.info.InitTime)
	return p, nil
}

// Infer runs the network on frame and returns every person that survives NMS
func (p *PoseProvider) Infer(frame gocv.Mat) (skeleton.DetectionSet, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.opts.InputSize
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	p.net.SetInput(blob, "")
	output := p.net.Forward("")
	defer output.Close()

	shape := output.Size()
	if len(shape) != 3 || shape[1] != poseAttributes {
		return nil, fmt.Errorf("unexpected pose output shape %v", shape)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("could not read pose output: %w", err)
	}

	scaleX := float64(frame.Cols()) / float64(size)
	scaleY := float64(frame.Rows()) / float64(size)
	candidates, err := decodePoseOutput(data, shape[2], scaleX, scaleY, p.opts.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	return p.suppress(candidates), nil
}

func (p *PoseProvider) suppress(candidates []poseCandidate) skeleton.DetectionSet {
	if len(candidates) == 0 {
		return skeleton.DetectionSet{}
	}
	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.box
		scores[i] = c.score
	}

	keep := gocv.NMSBoxes(boxes, scores, p.opts.ScoreThreshold, p.opts.NMSThreshold)
	out := make(skeleton.DetectionSet, 0, len(keep))
	for _, i := range keep {
		out = append(out, candidates[i].pose)
	}
	return out
}

// Close releases the network
func (p *PoseProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.net.Close()
}

// Info returns information about the provider
func (p *PoseProvider) Info() ProviderInfo {
	return p.info
}

type poseCandidate struct {
	box   image.Rectangle
	score float32
	pose  skeleton.PersonPose
}

// decodePoseOutput reads a channel-major [poseAttributes x n] output and maps boxes and
// keypoints from network input space back to frame space.
func decodePoseOutput(data []float32, n int, scaleX, scaleY float64, scoreThreshold float32) ([]poseCandidate, error) {
	if n < 0 || len(data) < poseAttributes*n {
		return nil, fmt.Errorf("pose output too short: %d values for %d candidates", len(data), n)
	}
	at := func(attr, i int) float64 { return float64(data[attr*n+i]) }

	var candidates []poseCandidate
	for i := 0; i < n; i++ {
		score := data[4*n+i]
		if score < scoreThreshold {
			continue
		}

		cx, cy := at(0, i)*scaleX, at(1, i)*scaleY
		w, h := at(2, i)*scaleX, at(3, i)*scaleY
		left, top := int(cx-w/2), int(cy-h/2)

		c := poseCandidate{
			box:   image.Rect(left, top, left+int(w), top+int(h)),
			score: score,
		}
		for k := 0; k < skeleton.KeypointCount; k++ {
			base := boxAttributes + k*3
			c.pose[k] = skeleton.Keypoint{
				X:          at(base, i) * scaleX,
				Y:          at(base+1, i) * scaleY,
				Confidence: at(base+2, i),
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
