package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"posecam/detection"
	"posecam/overlay"
	"posecam/skeleton"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// ErrAlreadyStarted is returned when Run is called on a loop that already ran
var ErrAlreadyStarted = errors.New("display loop already started")

// TickReport describes one completed tick
type TickReport struct {
	Frame        int64
	Detections   skeleton.DetectionSet
	Refreshed    bool  // Inference ran successfully on this frame
	InferenceErr error // Non-nil when inference was attempted and failed
	RenderErr    error // Keypoints skipped while drawing
}

// LoopOptions configures a Loop. Start from DefaultLoopOptions.
type LoopOptions struct {
	ConfidenceThreshold float64
	SkipInterval        int
	Renderer            *overlay.Renderer
	Logger              *slog.Logger
	Stats               *PipelineStats
	Metrics             *Metrics
	PerfReportInterval  time.Duration // Zero disables PERF logging
	StatusOverlay       bool
	OnTick              func(TickReport)
}

// DefaultLoopOptions returns the default threshold and skip interval
func DefaultLoopOptions() LoopOptions {
	return LoopOptions{
		ConfidenceThreshold: overlay.DefaultConfidenceThreshold,
		SkipInterval:        detection.DefaultSkipInterval,
		PerfReportInterval:  15 * time.Second,
	}
}

// Loop pulls frames from a source, annotates them with the cached pose detections and
// presents them to a sink, one tick at a time.
type Loop struct {
	source   FrameSource
	sink     Sink
	engine   detection.Provider
	cache    *detection.Cache
	renderer *overlay.Renderer
	stats    *PipelineStats
	metrics  *Metrics
	opts     LoopOptions
	logger   *slog.Logger
	session  string

	state  atomic.Int32
	frames atomic.Int64 // Next frame index; equals the number of frames captured
	stale  bool         // Last inference attempt failed
}

// NewLoop wires a loop. The loop takes ownership of source and sink and closes them when
// Run returns; the engine stays owned by the caller.
func NewLoop(source FrameSource, sink Sink, engine detection.Provider, opts LoopOptions) (*Loop, error) {
	if source == nil || sink == nil || engine == nil {
		return nil, errors.New("display loop needs a source, a sink and an inference engine")
	}
	if math.IsNaN(opts.ConfidenceThreshold) || opts.ConfidenceThreshold < 0 || opts.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold must be within [0,1], got %v", opts.ConfidenceThreshold)
	}
	cache, err := detection.NewCache(opts.SkipInterval)
	if err != nil {
		return nil, err
	}
	if opts.Renderer == nil {
		opts.Renderer = overlay.NewRenderer()
	}
	if opts.Stats == nil {
		opts.Stats = NewPipelineStats()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	session := uuid.NewString()
	return &Loop{
		source:   source,
		sink:     sink,
		engine:   engine,
		cache:    cache,
		renderer: opts.Renderer,
		stats:    opts.Stats,
		metrics:  opts.Metrics,
		opts:     opts,
		logger:   opts.Logger.With("component", "display", "session", session),
		session:  session,
	}, nil
}

// Session returns the unique id of this display session
func (l *Loop) Session() string { return l.session }

// State returns the current lifecycle state
func (l *Loop) State() State { return State(l.state.Load()) }

// Frames returns the number of frames captured so far
func (l *Loop) Frames() int64 { return l.frames.Load() }

// Run ticks until the sink asks to quit, ctx is cancelled, or the source fails. Quit and
// cancellation return nil; a source failure returns a *CaptureError. The source and sink
// are closed before Run returns on every path.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	info := l.engine.Info()
	l.logger.Info("display loop running",
		"skip_interval", l.cache.SkipInterval(),
		"threshold", l.opts.ConfidenceThreshold,
		"provider", info.Type,
		"backend", info.Backend)

	reason := "quit requested"
	defer func() {
		l.state.Store(int32(StateStopped))
		if cerr := l.source.Close(); cerr != nil {
			l.logger.Warn("failed to close frame source", "error", cerr)
		}
		if cerr := l.sink.Close(); cerr != nil {
			l.logger.Warn("failed to close sink", "error", cerr)
		}
		if err != nil {
			l.logger.Error("display loop stopped", "frames", l.Frames(), "error", err)
		} else {
			l.logger.Info("display loop stopped", "frames", l.Frames(), "reason", reason)
		}
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	var perf <-chan time.Time
	if l.opts.PerfReportInterval > 0 {
		ticker := time.NewTicker(l.opts.PerfReportInterval)
		defer ticker.Stop()
		perf = ticker.C
	}

	for {
		if ctx.Err() != nil {
			reason = "context cancelled"
			return nil
		}
		select {
		case <-perf:
			l.reportPerf()
		default:
		}

		quit, err := l.tick(&frame)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

func (l *Loop) tick(frame *gocv.Mat) (quit bool, err error) {
	index := l.frames.Load()

	start := time.Now()
	if err := l.source.Read(frame); err != nil {
		return false, &CaptureError{Frame: index, Err: err}
	}
	l.stats.UpdateCapture(time.Since(start))
	l.frames.Add(1)

	report := TickReport{Frame: index}

	start = time.Now()
	attempted := l.cache.ShouldRefresh(index)
	dets, refreshed, inferErr := l.cache.Detections(*frame, index, l.engine.Infer)
	if attempted {
		elapsed := time.Since(start)
		l.stats.UpdateInference(elapsed, inferErr != nil)
		l.metrics.ObserveInference(elapsed, inferErr)
	}
	switch {
	case inferErr != nil:
		l.stale = true
		report.InferenceErr = inferErr
		l.logger.Warn("inference failed, drawing cached detections", "frame", index, "error", inferErr)
	case refreshed:
		l.stale = false
	}
	report.Detections = dets
	report.Refreshed = refreshed

	start = time.Now()
	if renderErr := l.renderer.Render(frame, dets, l.opts.ConfidenceThreshold); renderErr != nil {
		report.RenderErr = renderErr
		l.metrics.ObserveRenderErrors(countErrors(renderErr))
		l.logger.Debug("skipped keypoints while rendering", "frame", index, "error", renderErr)
	}
	age := l.cacheAge(index)
	fps := l.stats.UpdateFPS()
	if l.opts.StatusOverlay {
		l.renderer.DrawStatus(frame, overlay.Status{
			FPS:       fps,
			People:    len(dets),
			CacheAge:  age,
			Refreshed: refreshed,
			Stale:     l.stale,
		})
	}
	l.stats.UpdateRender(time.Since(start))

	start = time.Now()
	l.sink.Present(*frame)
	l.stats.UpdatePresent(time.Since(start))
	l.metrics.ObserveTick(len(dets), age)

	if l.opts.OnTick != nil {
		l.opts.OnTick(report)
	}
	return l.sink.PollQuit(), nil
}

func (l *Loop) cacheAge(index int64) int64 {
	last, ok := l.cache.Last()
	if !ok {
		return 0
	}
	return index - last.ProducedAtFrame
}

func (l *Loop) reportPerf() {
	r := l.stats.GetStats()
	l.logger.Info("PERF",
		"window", r.Window.Round(time.Millisecond),
		"fps", fmt.Sprintf("%.1f", r.TickFPS),
		"inference_fps", fmt.Sprintf("%.1f", r.InferenceFPS),
		"capture", r.AvgCapture,
		"inference", r.AvgInference,
		"render", r.AvgRender,
		"present", r.AvgPresent,
		"inference_errors", r.InferenceErrs)
}

// countErrors counts the leaves of a joined error
func countErrors(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
