package display

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// snapshotQueueSize bounds the frames waiting to be encoded
const snapshotQueueSize = 8

type snapshotTask struct {
	path  string
	image gocv.Mat
}

// SnapshotSink saves every Nth presented frame as a JPEG under dir/YYYY-MM-DD_03PM/.
// Encoding runs on a background worker; frames are dropped when the queue is full.
type SnapshotSink struct {
	dir    string
	every  int64
	logger *slog.Logger
	now    func() time.Time

	presented int64
	queue     chan snapshotTask
	wg        sync.WaitGroup
	closeOnce sync.Once

	saved   atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewSnapshotSink starts the encoder worker. every must be positive.
func NewSnapshotSink(dir string, every int, logger *slog.Logger) (*SnapshotSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if every < 1 {
		return nil, fmt.Errorf("snapshot interval must be >= 1, got %d", every)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &SnapshotSink{
		dir:    dir,
		every:  int64(every),
		logger: logger.With("component", "snapshot"),
		now:    time.Now,
		queue:  make(chan snapshotTask, snapshotQueueSize),
	}
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

// Present queues a copy of every Nth frame, starting with the first
func (s *SnapshotSink) Present(img gocv.Mat) {
	n := s.presented
	s.presented++
	if n%s.every != 0 || img.Empty() {
		return
	}

	now := s.now()
	path := filepath.Join(s.dir, hourDir(now),
		fmt.Sprintf("%s_frame_%06d.jpg", now.Format("20060102_150405.000"), n))

	clone := img.Clone()
	select {
	case s.queue <- snapshotTask{path: path, image: clone}:
	default:
		clone.Close()
		s.dropped.Add(1)
		s.logger.Debug("snapshot queue full, dropping frame", "frame", n)
	}
}

func (s *SnapshotSink) PollQuit() bool { return false }

// Close drains the queue and waits for pending writes
func (s *SnapshotSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
		s.logger.Info("snapshot sink closed",
			"saved", s.saved.Load(),
			"dropped", s.dropped.Load(),
			"failed", s.failed.Load())
	})
	return nil
}

// Saved returns the number of JPEGs written
func (s *SnapshotSink) Saved() int64 { return s.saved.Load() }

// Dropped returns the number of frames skipped because the queue was full
func (s *SnapshotSink) Dropped() int64 { return s.dropped.Load() }

func (s *SnapshotSink) worker() {
	defer s.wg.Done()
	for task := range s.queue {
		s.write(task)
		task.image.Close()
	}
}

func (s *SnapshotSink) write(task snapshotTask) {
	if err := os.MkdirAll(filepath.Dir(task.path), 0755); err != nil {
		s.failed.Add(1)
		s.logger.Warn("failed to create snapshot subdirectory", "path", filepath.Dir(task.path), "error", err)
		return
	}
	if !gocv.IMWrite(task.path, task.image) {
		s.failed.Add(1)
		s.logger.Warn("failed to save snapshot", "path", task.path)
		return
	}
	s.saved.Add(1)
}

// hourDir names the per-hour subdirectory, e.g. 2025-01-01_03PM
func hourDir(t time.Time) string {
	hour := t.Hour()
	hour12 := hour % 12
	if hour12 == 0 {
		hour12 = 12
	}
	ampm := "AM"
	if hour >= 12 {
		ampm = "PM"
	}
	return fmt.Sprintf("%s_%02d%s", t.Format("2006-01-02"), hour12, ampm)
}
