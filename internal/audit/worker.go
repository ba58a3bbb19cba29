package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit entries from a channel and persists them through a
// Publisher. It carries the fire-and-forget entries (operational categories)
// so emission never blocks the event hot path; fail-closed entries bypass
// it and emit synchronously.
type Worker struct {
	publisher *Publisher
	inbox     <-chan Entry
	logger    *slog.Logger
}

func NewWorker(publisher *Publisher, inbox <-chan Entry, logger *slog.Logger) *Worker {
	return &Worker{publisher: publisher, inbox: inbox, logger: logger}
}

// Run drains the inbox until the context is cancelled. A persist failure is
// logged and the worker keeps going: losing an operational audit entry must
// not take the pipeline down.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.inbox:
			if err := w.publisher.Emit(ctx, entry); err != nil && w.logger != nil {
				w.logger.WarnContext(ctx, "failed to persist audit entry",
					"action", entry.Action, "error", err)
			}
		}
	}
}
