package display

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"posecam/pkg/ffmpeg"

	"gocv.io/x/gocv"
)

const (
	streamOutputLines  = 200
	streamStopTimeout  = 5 * time.Second
	streamFrameTimeout = 10 * time.Second
)

// StreamSink publishes frames by piping raw BGR video into an ffmpeg process. ffmpeg is
// started on the first frame, which fixes the stream resolution. A write failure disables
// the sink for the rest of the session.
type StreamSink struct {
	url    string
	fps    int
	binary string
	logger *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	writer   *bufio.Writer
	monitor  *ffmpeg.Monitor
	width    int
	height   int
	disabled bool
	sent     int64
}

// NewStreamSink configures a stream to url using the ffmpeg binary (empty means "ffmpeg"
// from PATH). Nothing is started until the first frame.
func NewStreamSink(url string, fps int, binary string, logger *slog.Logger) (*StreamSink, error) {
	if url == "" {
		return nil, errors.New("stream url is required")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("stream fps must be positive, got %d", fps)
	}
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamSink{
		url:    url,
		fps:    fps,
		binary: binary,
		logger: logger.With("component", "stream"),
	}, nil
}

func (s *StreamSink) Present(img gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled || img.Empty() {
		return
	}
	if s.cmd == nil {
		if err := s.start(img.Cols(), img.Rows()); err != nil {
			s.logger.Error("failed to start ffmpeg, streaming disabled", "error", err)
			s.disabled = true
			return
		}
	}
	if img.Cols() != s.width || img.Rows() != s.height {
		s.logger.Warn("frame size changed, skipping frame",
			"want", fmt.Sprintf("%dx%d", s.width, s.height),
			"got", fmt.Sprintf("%dx%d", img.Cols(), img.Rows()))
		return
	}

	if _, err := s.writer.Write(img.ToBytes()); err != nil {
		s.fail(err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.fail(err)
		return
	}
	s.sent++
}

func (s *StreamSink) fail(err error) {
	s.logger.Error("failed to write frame to ffmpeg, streaming disabled", "frames_sent", s.sent, "error", err)
	s.monitor.DumpCrashInfo()
	s.disabled = true
}

func (s *StreamSink) PollQuit() bool { return false }

// Healthy reports whether ffmpeg is running and still encoding frames
func (s *StreamSink) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return false
	}
	if s.monitor == nil {
		return true // not started yet
	}
	return s.monitor.Healthy(streamFrameTimeout)
}

// Close ends the input stream and waits for ffmpeg to flush, killing it after a timeout
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	s.cmd = nil
	s.disabled = true

	if err := s.writer.Flush(); err != nil {
		s.logger.Debug("final flush failed", "error", err)
	}
	s.stdin.Close()

	// stderr must be drained before Wait closes it
	monitor := s.monitor
	exited := make(chan error, 1)
	go func() {
		<-monitor.Done()
		exited <- cmd.Wait()
	}()

	select {
	case err := <-exited:
		s.logger.Info("ffmpeg stopped", "frames_sent", s.sent, "last_encoded", s.monitor.LastFrame())
		if err != nil {
			return fmt.Errorf("ffmpeg exited: %w", err)
		}
		return nil
	case <-time.After(streamStopTimeout):
		s.logger.Warn("ffmpeg did not exit, killing", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill ffmpeg: %w", err)
		}
		<-exited
		return nil
	}
}

func (s *StreamSink) start(width, height int) error {
	args := streamArgs(fmt.Sprintf("%dx%d", width, height), s.fps, s.url)
	cmd := exec.Command(s.binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("could not get ffmpeg stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("could not get ffmpeg stderr: %w", err)
	}

	s.logger.Info("starting ffmpeg", "cmd", s.binary+" "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	// One full frame per flush
	s.writer = bufio.NewWriterSize(stdin, width*height*3)
	s.monitor = ffmpeg.NewMonitor(streamOutputLines, s.logger)
	s.width, s.height = width, height
	go s.monitor.Watch(stderr)

	s.logger.Info("ffmpeg started", "pid", cmd.Process.Pid, "size", fmt.Sprintf("%dx%d", width, height))
	return nil
}

// streamArgs builds the ffmpeg command line for raw BGR input on stdin
func streamArgs(size string, fps int, url string) []string {
	rate := fmt.Sprintf("%d", fps)
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", size,
		"-r", rate,
		"-i", "-",

		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-g", rate,
		"-keyint_min", rate,
		"-sc_threshold", "0",
		"-pix_fmt", "yuv420p",
	}

	switch {
	case strings.HasPrefix(url, "rtmp://"), strings.HasPrefix(url, "rtmps://"):
		args = append(args, "-f", "flv", "-flvflags", "no_duration_filesize")
	case strings.HasPrefix(url, "rtsp://"):
		args = append(args, "-f", "rtsp", "-rtsp_transport", "tcp")
	case strings.HasPrefix(url, "srt://"), strings.HasPrefix(url, "udp://"):
		args = append(args, "-f", "mpegts")
	}
	return append(args, url)
}
