package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// deliver hands c to every sink in order. One failing sink does not stop the
// others.
func deliver(ctx context.Context, sinks []CompletionSink, c Completion, log logrus.FieldLogger) {
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if err := sink.SessionCompleted(ctx, c); err != nil {
			log.WithError(err).WithField("sink", fmt.Sprintf("%T", sink)).Warn("completion sink failed")
		}
	}
}

// SinkFunc adapts a function to CompletionSink.
type SinkFunc func(ctx context.Context, c Completion) error

func (f SinkFunc) SessionCompleted(ctx context.Context, c Completion) error {
	return f(ctx, c)
}
