package stacktrace

import "runtime"

// Frame describes one resolved call-stack entry.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Capturer produces the frames leading to a call site. Implementations
// always exclude their own frame; skip drops that many additional
// caller frames before the first kept one.
type Capturer interface {
	CaptureFrames(skip, max int) []Frame
}

// RuntimeCapturer resolves frames through the Go runtime.
type RuntimeCapturer struct{}

func (RuntimeCapturer) CaptureFrames(skip, max int) []Frame {
	if max <= 0 {
		return nil
	}
	pcs := make([]uintptr, max)
	// 2 skips runtime.Callers and this method
	n := runtime.Callers(2+skip, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]Frame, 0, n)
	for {
		fr, more := frames.Next()
		out = append(out, Frame{
			Function: fr.Function,
			File:     fr.File,
			Line:     fr.Line,
		})
		// inlined calls can expand to more frames than PCs
		if !more || len(out) == max {
			break
		}
	}
	return out
}

// NoopCapturer disables frame capture.
type NoopCapturer struct{}

func (NoopCapturer) CaptureFrames(int, int) []Frame {
	return nil
}
