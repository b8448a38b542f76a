package display

import "gocv.io/x/gocv"

const escKey = 27

// WindowSink shows frames in a desktop window and watches the keyboard for the quit key
type WindowSink struct {
	window  *gocv.Window
	quitKey int
}

// NewWindowSink opens a window. Pressing quitKey or ESC requests quit.
func NewWindowSink(title string, quitKey byte) *WindowSink {
	if quitKey == 0 {
		quitKey = 'q'
	}
	return &WindowSink{
		window:  gocv.NewWindow(title),
		quitKey: int(quitKey),
	}
}

func (w *WindowSink) Present(img gocv.Mat) {
	w.window.IMShow(img)
}

// PollQuit pumps the window event loop for 1ms
func (w *WindowSink) PollQuit() bool {
	return isQuitKey(w.window.WaitKey(1), w.quitKey)
}

// isQuitKey maps a WaitKey result to a quit request. -1 means no key; the upper bits carry
// modifier flags on some backends.
func isQuitKey(key, quitKey int) bool {
	if key < 0 {
		return false
	}
	key &= 0xFF
	return key == quitKey || key == escKey
}

func (w *WindowSink) Close() error {
	return w.window.Close()
}
