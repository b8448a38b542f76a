package display

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"posecam/detection"
	"posecam/skeleton"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const (
	testRows = 240
	testCols = 320
)

var errDisconnected = errors.New("device disconnected")

type fakeSource struct {
	reads  int64
	failAt int64 // -1 never fails
	closed bool
}

func newFakeSource() *fakeSource { return &fakeSource{failAt: -1} }

func (s *fakeSource) Read(dst *gocv.Mat) error {
	if s.reads == s.failAt {
		return errDisconnected
	}
	s.reads++
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testRows, testCols, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.CopyTo(dst)
	return nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeSink struct {
	presented int
	quitAfter int // 0 never quits
	last      gocv.Mat
	hasLast   bool
	closed    bool
}

func (s *fakeSink) Present(img gocv.Mat) {
	s.presented++
	if s.hasLast {
		s.last.Close()
	}
	s.last = img.Clone()
	s.hasLast = true
}

func (s *fakeSink) PollQuit() bool {
	return s.quitAfter > 0 && s.presented >= s.quitAfter
}

func (s *fakeSink) Close() error {
	s.closed = true
	if s.hasLast {
		s.last.Close()
		s.hasLast = false
	}
	return nil
}

// fakeEngine returns one person per call with the nose at (call*10+20, 50)
type fakeEngine struct {
	calls  int
	failOn map[int]bool // call numbers that fail
}

func (e *fakeEngine) Infer(frame gocv.Mat) (skeleton.DetectionSet, error) {
	call := e.calls
	e.calls++
	if e.failOn[call] {
		return nil, errors.New("accelerator timeout")
	}
	var pose skeleton.PersonPose
	pose[skeleton.Nose] = skeleton.Keypoint{X: float64(call*10 + 20), Y: 50, Confidence: 0.9}
	return skeleton.DetectionSet{pose}, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) Info() detection.ProviderInfo {
	return detection.ProviderInfo{Type: "fake", Backend: "test"}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(reports *[]TickReport) LoopOptions {
	opts := DefaultLoopOptions()
	opts.Logger = quietLogger()
	opts.PerfReportInterval = 0
	opts.OnTick = func(r TickReport) { *reports = append(*reports, r) }
	return opts
}

func TestLoopRefreshesEverySkipInterval(t *testing.T) {
	var reports []TickReport
	source, sink, engine := newFakeSource(), &fakeSink{quitAfter: 5}, &fakeEngine{}

	loop, err := NewLoop(source, sink, engine, testOptions(&reports))
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, 3, engine.calls, "ticks 0, 2 and 4 infer")
	assert.Equal(t, 5, sink.presented)
	assert.Equal(t, int64(5), loop.Frames())
	require.Len(t, reports, 5)

	for i, r := range reports {
		assert.Equal(t, int64(i), r.Frame)
		assert.Equal(t, i%2 == 0, r.Refreshed, "tick %d", i)
		assert.NoError(t, r.InferenceErr)
		require.Len(t, r.Detections, 1)
	}
	// Tick 1 reuses tick 0's set, tick 3 reuses tick 2's
	assert.Equal(t, reports[0].Detections, reports[1].Detections)
	assert.Equal(t, reports[2].Detections, reports[3].Detections)
	assert.NotEqual(t, reports[0].Detections, reports[2].Detections)
}

func TestLoopKeepsCachedDetectionsWhenInferenceFails(t *testing.T) {
	var reports []TickReport
	source, sink := newFakeSource(), &fakeSink{quitAfter: 5}
	engine := &fakeEngine{failOn: map[int]bool{1: true}} // second call is tick 2

	loop, err := NewLoop(source, sink, engine, testOptions(&reports))
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	require.Len(t, reports, 5)
	assert.Equal(t, 3, engine.calls)

	tick2 := reports[2]
	require.Error(t, tick2.InferenceErr)
	assert.True(t, errors.Is(tick2.InferenceErr, detection.ErrInference))
	assert.False(t, tick2.Refreshed)
	assert.Equal(t, reports[0].Detections, tick2.Detections, "tick 2 draws tick 0's detections")
	assert.Equal(t, reports[0].Detections, reports[3].Detections)

	assert.True(t, reports[4].Refreshed)
	assert.NoError(t, reports[4].InferenceErr)
	assert.Equal(t, 5, sink.presented, "a failed inference does not skip presenting")
}

func TestLoopCaptureErrorIsFatal(t *testing.T) {
	var reports []TickReport
	source, sink, engine := newFakeSource(), &fakeSink{}, &fakeEngine{}
	source.failAt = 3

	loop, err := NewLoop(source, sink, engine, testOptions(&reports))
	require.NoError(t, err)

	err = loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapture))
	assert.True(t, errors.Is(err, errDisconnected))

	var captureErr *CaptureError
	require.True(t, errors.As(err, &captureErr))
	assert.Equal(t, int64(3), captureErr.Frame)

	assert.Len(t, reports, 3)
	assert.Equal(t, int64(3), loop.Frames())
	assert.True(t, source.closed)
	assert.True(t, sink.closed)
	assert.Equal(t, StateStopped, loop.State())
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reports []TickReport
	opts := testOptions(&reports)
	onTick := opts.OnTick
	opts.OnTick = func(r TickReport) {
		onTick(r)
		if r.Frame == 1 {
			cancel()
		}
	}

	source, sink := newFakeSource(), &fakeSink{}
	loop, err := NewLoop(source, sink, &fakeEngine{}, opts)
	require.NoError(t, err)

	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, int64(2), loop.Frames())
	assert.Equal(t, 2, sink.presented)
	assert.True(t, source.closed)
	assert.True(t, sink.closed)
}

func TestLoopRunsOnlyOnce(t *testing.T) {
	var reports []TickReport
	loop, err := NewLoop(newFakeSource(), &fakeSink{quitAfter: 1}, &fakeEngine{}, testOptions(&reports))
	require.NoError(t, err)

	assert.Equal(t, StateStarting, loop.State())
	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, StateStopped, loop.State())
	assert.ErrorIs(t, loop.Run(context.Background()), ErrAlreadyStarted)
	assert.NotEmpty(t, loop.Session())
}

func TestNewLoopValidates(t *testing.T) {
	var reports []TickReport

	opts := testOptions(&reports)
	opts.SkipInterval = 0
	_, err := NewLoop(newFakeSource(), &fakeSink{}, &fakeEngine{}, opts)
	assert.ErrorIs(t, err, detection.ErrInvalidSkipInterval)

	opts = testOptions(&reports)
	opts.ConfidenceThreshold = 1.5
	_, err = NewLoop(newFakeSource(), &fakeSink{}, &fakeEngine{}, opts)
	assert.ErrorContains(t, err, "confidence threshold")

	opts = testOptions(&reports)
	opts.ConfidenceThreshold = math.NaN()
	_, err = NewLoop(newFakeSource(), &fakeSink{}, &fakeEngine{}, opts)
	assert.ErrorContains(t, err, "confidence threshold")

	_, err = NewLoop(nil, &fakeSink{}, &fakeEngine{}, testOptions(&reports))
	assert.Error(t, err)
}

func TestLoopPresentsAnnotatedPixels(t *testing.T) {
	var reports []TickReport
	sink := &keepingSink{fakeSink: fakeSink{quitAfter: 1}}
	loop, err := NewLoop(newFakeSource(), sink, &fakeEngine{}, testOptions(&reports))
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))
	defer sink.last.Close()

	// Nose of the first call sits at (20, 50)
	px := sink.last.GetVecbAt(50, 20)
	assert.NotEqual(t, gocv.Vecb{0, 0, 0}, px)
	corner := sink.last.GetVecbAt(200, 300)
	assert.Equal(t, gocv.Vecb{0, 0, 0}, corner)
}

// keepingSink keeps its last frame open after Close
type keepingSink struct {
	fakeSink
}

func (s *keepingSink) Close() error {
	s.closed = true
	return nil
}

func TestLoopRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	var reports []TickReport
	opts := testOptions(&reports)
	opts.Metrics = NewMetrics(reg)

	engine := &fakeEngine{failOn: map[int]bool{1: true}}
	loop, err := NewLoop(newFakeSource(), &fakeSink{quitAfter: 5}, engine, opts)
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	m := opts.Metrics
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.inferenceTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inferenceTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.peopleDetected))
	// Tick 4 refreshed the cache
	assert.Equal(t, 0.0, testutil.ToFloat64(m.cacheAgeFrames))
}

func TestCountErrors(t *testing.T) {
	assert.Equal(t, 0, countErrors(nil))
	assert.Equal(t, 1, countErrors(errors.New("one")))
	assert.Equal(t, 3, countErrors(errors.Join(errors.New("a"), errors.New("b"), errors.New("c"))))
}
