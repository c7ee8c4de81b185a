package events

import (
	"context"
	"time"

	"twinpool/pkg/logger"
)

// FaultReport out-of-band description of a fault
type FaultReport struct {
	Source    Source
	Workspace string
	Message   string
	At        time.Time
}

// Notifier delivers fault reports outside the event stream (chat webhook etc.)
type Notifier interface {
	NotifyFault(ctx context.Context, report FaultReport) error
}

// RaiseFault publishes a fault event and, when a notifier is set, sends the
// report on its own goroutine
func RaiseFault(ctx context.Context, bus *Bus, notifier Notifier, src Source, workspace, message string) {
	logger.ErrorCtx(ctx, "%s fault: %s", src, message)
	Emit(bus, TypeFault, src, workspace, Fault{Message: message})
	if notifier == nil {
		return
	}
	report := FaultReport{Source: src, Workspace: workspace, Message: message, At: time.Now()}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := notifier.NotifyFault(nctx, report); err != nil {
			logger.WarnCtx(nctx, "failed to send fault notification: %v", err)
		}
	}()
}
