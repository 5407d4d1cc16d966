package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-tracker/lang"
	"order-tracker/logger"
	"order-tracker/models"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStatusConflict means the order changed status between read and write.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// StatusWriter is the write side of the orders table.
type StatusWriter interface {
	FindByID(ctx context.Context, id string) (*models.Order, error)
	// SetStatus moves the order from one status to another and returns the
	// updated row, or nil when the order is no longer in status from.
	SetStatus(ctx context.Context, id string, from, to models.Status) (*models.Order, error)
	InsertNotification(ctx context.Context, n models.OrderNotification) error
}

// StatusUpdater is the back-office side of status changes. Tracking clients
// see its writes through push events and polling.
type StatusUpdater struct {
	w    StatusWriter
	lang string
	log  logger.Logger
	now  func() time.Time
}

func NewStatusUpdater(w StatusWriter, langCode string, log logger.Logger) *StatusUpdater {
	return &StatusUpdater{w: w, lang: langCode, log: log, now: time.Now}
}

// Advance moves an order to status to. The notification row is best effort:
// a failed insert is logged and does not fail the update.
func (u *StatusUpdater) Advance(ctx context.Context, orderID string, to models.Status) (*models.Order, error) {
	o, err := u.w.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o == nil {
		return nil, ErrNotFound
	}
	from := o.Status
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w from %q to %q", ErrInvalidTransition, from, to)
	}

	updated, err := u.w.SetStatus(ctx, orderID, from, to)
	if err != nil {
		return nil, fmt.Errorf("update order %s status: %w", orderID, err)
	}
	if updated == nil {
		return nil, ErrStatusConflict
	}

	n := models.OrderNotification{
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		OldStatus:   from,
		NewStatus:   to,
		Message:     fmt.Sprintf(lang.T(u.lang, "toast_status_changed"), updated.OrderNumber, StatusLabel(to, u.lang)),
		CreatedAt:   u.now(),
	}
	if err := u.w.InsertNotification(ctx, n); err != nil {
		u.log.WithContext(ctx).Warn("insert order notification",
			logger.String("order_id", orderID),
			logger.String("status", string(to)),
			logger.Error(err))
	}
	u.log.WithContext(ctx).Info("order status changed",
		logger.String("order_id", orderID),
		logger.String("from", string(from)),
		logger.String("to", string(to)))
	return updated, nil
}
