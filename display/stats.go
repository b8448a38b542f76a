package display

import (
	"sync"
	"time"
)

// PerfReport is one window of pipeline statistics
type PerfReport struct {
	Window        time.Duration
	TickFPS       float64
	InferenceFPS  float64
	AvgCapture    time.Duration
	AvgInference  time.Duration
	AvgRender     time.Duration
	AvgPresent    time.Duration
	InferenceErrs int64
}

// PipelineStats tracks performance metrics for the different stages of a tick
type PipelineStats struct {
	mu             sync.Mutex
	tickCount      int64
	lastReportTime time.Time
	lastFPSUpdate  time.Time
	fpsCount       int64
	lastFPS        float64

	// Timing measurements
	captureTimeTotal   time.Duration
	inferenceTimeTotal time.Duration
	renderTimeTotal    time.Duration
	presentTimeTotal   time.Duration
	captureCount       int64
	inferenceCount     int64
	renderCount        int64
	presentCount       int64
	inferenceErrs      int64
}

// NewPipelineStats creates a new pipeline statistics tracker
func NewPipelineStats() *PipelineStats {
	now := time.Now()
	return &PipelineStats{
		lastReportTime: now,
		lastFPSUpdate:  now,
	}
}

// GetStats returns the statistics since the last call and resets the counters
func (ps *PipelineStats) GetStats() PerfReport {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	window := now.Sub(ps.lastReportTime)
	seconds := window.Seconds()
	if seconds <= 0 {
		seconds = 1.0 // Prevent division by zero
	}

	r := PerfReport{
		Window:        window,
		TickFPS:       float64(ps.tickCount) / seconds,
		InferenceFPS:  float64(ps.inferenceCount) / seconds,
		InferenceErrs: ps.inferenceErrs,
	}
	if ps.captureCount > 0 {
		r.AvgCapture = ps.captureTimeTotal / time.Duration(ps.captureCount)
	}
	if ps.inferenceCount > 0 {
		r.AvgInference = ps.inferenceTimeTotal / time.Duration(ps.inferenceCount)
	}
	if ps.renderCount > 0 {
		r.AvgRender = ps.renderTimeTotal / time.Duration(ps.renderCount)
	}
	if ps.presentCount > 0 {
		r.AvgPresent = ps.presentTimeTotal / time.Duration(ps.presentCount)
	}

	// Reset counters but keep the FPS window
	ps.tickCount = 0
	ps.captureTimeTotal, ps.captureCount = 0, 0
	ps.inferenceTimeTotal, ps.inferenceCount = 0, 0
	ps.renderTimeTotal, ps.renderCount = 0, 0
	ps.presentTimeTotal, ps.presentCount = 0, 0
	ps.inferenceErrs = 0
	ps.lastReportTime = now

	return r
}

// UpdateCapture updates capture statistics
func (ps *PipelineStats) UpdateCapture(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.captureTimeTotal += duration
	ps.captureCount++
}

// UpdateInference updates inference statistics. Failed calls count towards the timing too.
func (ps *PipelineStats) UpdateInference(duration time.Duration, failed bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.inferenceTimeTotal += duration
	ps.inferenceCount++
	if failed {
		ps.inferenceErrs++
	}
}

// UpdateRender updates render statistics
func (ps *PipelineStats) UpdateRender(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.renderTimeTotal += duration
	ps.renderCount++
}

// UpdatePresent updates present statistics and counts a completed tick
func (ps *PipelineStats) UpdatePresent(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.presentTimeTotal += duration
	ps.presentCount++
	ps.tickCount++
}

// UpdateFPS counts a displayed frame and returns the FPS over roughly the last second
func (ps *PipelineStats) UpdateFPS() float64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	ps.fpsCount++

	elapsed := now.Sub(ps.lastFPSUpdate)
	if elapsed >= time.Second {
		ps.lastFPS = float64(ps.fpsCount) / elapsed.Seconds()
		ps.fpsCount = 0
		ps.lastFPSUpdate = now
	}
	return ps.lastFPS
}
