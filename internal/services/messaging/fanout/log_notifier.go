package fanout

import (
	"context"
	"fmt"
	"log"
)

// LogNotifier writes events to the process log. It is the default sink when
// no webhook endpoint is configured.
type LogNotifier struct {
	logf func(format string, args ...any)
}

// NewLogNotifier constructs a logging sink. A nil logf falls back to the
// standard logger.
func NewLogNotifier(logf func(format string, args ...any)) *LogNotifier {
	if logf == nil {
		logf = log.Printf
	}
	return &LogNotifier{logf: logf}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.logf == nil {
		return fmt.Errorf("log notifier is not configured")
	}
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logf("fanout %s target=%s", event.Kind(), event.Target())
	return nil
}
