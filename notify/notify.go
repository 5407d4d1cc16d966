// Package notify fans status changes of the tracked order out to the
// configured sinks.
package notify

import (
	"context"
	"errors"

	"order-tracker/logger"
	"order-tracker/models"
)

type Notifier interface {
	StatusChanged(ctx context.Context, change models.StatusChange) error
}

// Multi delivers to every notifier, even after one fails, and joins the
// errors.
type Multi []Notifier

func (m Multi) StatusChanged(ctx context.Context, change models.StatusChange) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.StatusChanged(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes the toast to the application log. It is always wired so a
// status change leaves a trace even with no other sink configured.
type Log struct {
	log logger.Logger
}

func NewLog(log logger.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) StatusChanged(ctx context.Context, change models.StatusChange) error {
	l.log.WithContext(ctx).Info(change.Message,
		logger.String("order_id", change.OrderID),
		logger.String("order_number", change.OrderNumber),
		logger.String("from", string(change.From)),
		logger.String("to", string(change.To)),
	)
	return nil
}
