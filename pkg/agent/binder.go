package agent

import (
	"fmt"

	"github.com/zoobzio/clockz"

	"github.com/pulseapm/pulse-go/pkg/config"
	"github.com/pulseapm/pulse-go/pkg/model"
	"github.com/pulseapm/pulse-go/pkg/stacktrace"
)

// ErrorBinder turns a caught fault into an error record bound to the
// transaction active at capture time. The zero value captures with
// the runtime capturer and the real clock.
type ErrorBinder struct {
	Capturer stacktrace.Capturer
	Clock    clockz.Clock
}

// Bind builds the record for fault. The culprit is the nearest frame
// outside the instrumentation, the one that reported the fault.
func (b *ErrorBinder) Bind(fault error, tx *model.Transaction) *model.ErrorRecord {
	capturer := b.Capturer
	if capturer == nil {
		capturer = stacktrace.RuntimeCapturer{}
	}
	clk := b.Clock
	if clk == nil {
		clk = clockz.RealClock
	}

	// 2 skips Bind and NotifyException
	frames := capturer.CaptureFrames(2, config.MaxStackFrames)

	return &model.ErrorRecord{
		ID:            model.NewErrorID(),
		ParentID:      tx.ID,
		TransactionID: tx.ID,
		TraceID:       tx.TraceID,
		Type:          fmt.Sprintf("%T", fault),
		Message:       fault.Error(),
		Culprit:       culprit(frames),
		Stacktrace:    frames,
		Timestamp:     clk.Now(),
	}
}

func culprit(frames []stacktrace.Frame) string {
	if len(frames) == 0 {
		return ""
	}
	return frames[0].Function
}
