package display

import (
	"errors"

	"gocv.io/x/gocv"
)

// MultiSink presents every frame to each member in order
type MultiSink []Sink

// NewMultiSink skips nil members and unwraps a single member
func NewMultiSink(sinks ...Sink) Sink {
	var m MultiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m MultiSink) Present(img gocv.Mat) {
	for _, s := range m {
		s.Present(img)
	}
}

// PollQuit polls every member so each window keeps pumping events
func (m MultiSink) PollQuit() bool {
	quit := false
	for _, s := range m {
		if s.PollQuit() {
			quit = true
		}
	}
	return quit
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
