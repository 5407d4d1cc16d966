package models

// Status is the fulfilment status of an order. The backend's `status` column is
// canonical; the legacy `order_status` column only mirrors it.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusArrived        Status = "arrived"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// StatusFlow is the forward progression shown on the progress bar.
// Cancelled is not part of it.
var StatusFlow = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusOutForDelivery,
	StatusArrived,
	StatusDelivered,
}

// PaymentStatus is read as an opaque enum; payment handling lives elsewhere.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Known reports whether s is one of the defined statuses.
func (s Status) Known() bool {
	return s == StatusCancelled || s.Index() >= 0
}

// Index returns the position of s in StatusFlow, or -1 for cancelled and
// unknown values.
func (s Status) Index() int {
	for i, st := range StatusFlow {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Normalize maps unknown values to pending so display code never sees a
// status it cannot render.
func (s Status) Normalize() Status {
	if s.Known() {
		return s
	}
	return StatusPending
}

// ProgressPercentage is (index+1)/len(StatusFlow) scaled to 100, so delivered
// fills the bar. Cancelled and unknown statuses report 0, which no status of
// the flow can produce.
func (s Status) ProgressPercentage() float64 {
	i := s.Index()
	if i < 0 {
		return 0
	}
	return float64(i+1) * 100 / float64(len(StatusFlow))
}

// CanTransition reports whether an order may move from one status to another:
// forward along StatusFlow (skipping steps is allowed) or to cancelled from any
// non-terminal status.
func CanTransition(from, to Status) bool {
	if !from.Known() || !to.Known() || from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return to.Index() > from.Index()
}
