// Package ffmpeg watches the output of an ffmpeg child process.
package ffmpeg

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"
)

var (
	frameRegex          = regexp.MustCompile(`frame=\s*(\d+)`)
	timestampErrorRegex = regexp.MustCompile(`(?i)((DTS|PTS)\s+\d+,\s+next:\d+.*invalid dropping|Non-monotonic DTS.*previous:.*current:.*changing to)`)
)

// maxTimestampErrors within timestampErrorWindow marks the process unhealthy
const (
	maxTimestampErrors   = 3
	timestampErrorWindow = 30 * time.Second
)

// OutputBuffer stores recent output lines for crash dump analysis
type OutputBuffer struct {
	lines    []string
	maxLines int
	index    int
	full     bool
	mutex    sync.RWMutex
}

// NewOutputBuffer creates a circular buffer for storing recent output
func NewOutputBuffer(maxLines int) *OutputBuffer {
	if maxLines < 1 {
		maxLines = 1
	}
	return &OutputBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
	}
}

// Add stores a new line in the circular buffer
func (ob *OutputBuffer) Add(line string) {
	ob.mutex.Lock()
	defer ob.mutex.Unlock()

	ob.lines[ob.index] = line
	ob.index = (ob.index + 1) % ob.maxLines
	if ob.index == 0 {
		ob.full = true
	}
}

// GetRecent returns the most recent lines (oldest first)
func (ob *OutputBuffer) GetRecent() []string {
	ob.mutex.RLock()
	defer ob.mutex.RUnlock()

	if !ob.full {
		return append([]string(nil), ob.lines[:ob.index]...)
	}
	result := make([]string, 0, ob.maxLines)
	for i := 0; i < ob.maxLines; i++ {
		result = append(result, ob.lines[(ob.index+i)%ob.maxLines])
	}
	return result
}

// Monitor follows ffmpeg's stderr, keeping a crash buffer and tracking encoder progress
type Monitor struct {
	buffer *OutputBuffer
	logger *slog.Logger

	mutex           sync.RWMutex
	lastFrameNumber int
	lastFrameUpdate time.Time
	timestampErrors int
	lastErrorTime   time.Time
	forceUnhealthy  bool
	done            chan struct{}
}

// NewMonitor creates a monitor keeping the last maxLines lines of output
func NewMonitor(maxLines int, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		buffer:          NewOutputBuffer(maxLines),
		logger:          logger.With("component", "ffmpeg"),
		lastFrameUpdate: time.Now(),
		done:            make(chan struct{}),
	}
}

// Watch consumes r until EOF. Run it in its own goroutine.
func (m *Monitor) Watch(r io.Reader) {
	defer close(m.done)

	scanner := bufio.NewScanner(r)
	// ffmpeg progress lines can be long
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	// ffmpeg terminates progress lines with \r
	scanner.Split(scanLines)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		m.buffer.Add(line)
		m.processLine(line)
		m.logger.Debug(line)
	}
	if err := scanner.Err(); err != nil {
		m.buffer.Add(fmt.Sprintf("SCANNER_ERROR: %v", err))
	}
}

// Done is closed when the watched stream ends
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) processLine(line string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if timestampErrorRegex.MatchString(line) {
		now := time.Now()
		if now.Sub(m.lastErrorTime) > timestampErrorWindow {
			m.timestampErrors = 0
		}
		m.timestampErrors++
		m.lastErrorTime = now
		m.logger.Warn("timestamp error", "count", m.timestampErrors, "line", line)
		if m.timestampErrors >= maxTimestampErrors {
			m.forceUnhealthy = true
		}
	}

	if matches := frameRegex.FindStringSubmatch(line); len(matches) > 1 {
		if frameNum, err := strconv.Atoi(matches[1]); err == nil && frameNum > m.lastFrameNumber {
			m.lastFrameNumber = frameNum
			m.lastFrameUpdate = time.Now()
		}
	}
}

// Healthy reports whether ffmpeg is still making progress
func (m *Monitor) Healthy(frameTimeout time.Duration) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return !m.forceUnhealthy && time.Since(m.lastFrameUpdate) <= frameTimeout
}

// LastFrame returns the last frame number ffmpeg reported
func (m *Monitor) LastFrame() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.lastFrameNumber
}

// DumpCrashInfo logs the recent output for crash analysis
func (m *Monitor) DumpCrashInfo() {
	lines := m.buffer.GetRecent()
	if len(lines) == 0 {
		m.logger.Error("ffmpeg crash dump: no output captured")
		return
	}
	m.logger.Error("ffmpeg crash dump", "lines", len(lines))
	for _, line := range lines {
		m.logger.Error(line)
	}
}

// scanLines splits on \n or \r
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
