package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

// Sender delivers one message to the device.
type Sender interface {
	Send(ctx context.Context, msg model.Message) error
}

// Queue sends messages strictly one at a time. A failed message is logged and
// the queue moves on to the next one.
type Queue struct {
	sender Sender
	logger *slog.Logger
}

// NewQueue creates a Queue over sender.
func NewQueue(sender Sender, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{sender: sender, logger: logger}
}

// Flush sends msgs in order and returns every failure joined together, or
// nil when all were sent. It stops early only when ctx is done.
func (q *Queue) Flush(ctx context.Context, msgs []model.Message) error {
	var errs []error
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%d of %d messages not sent: %w", len(msgs)-i, len(msgs), err))
			break
		}

		if err := q.sender.Send(ctx, msg); err != nil {
			q.logger.Warn("message send failed, continuing",
				"kind", msg.Kind,
				"id", msg.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("send %s %d: %w", msg.Kind, msg.ID, err))
			continue
		}
		q.logger.Debug("message sent", "kind", msg.Kind, "id", msg.ID)
	}
	return errors.Join(errs...)
}
