package services

import (
	"sync"

	"order-tracker/lang"
	"order-tracker/models"
)

// MergeResult describes the outcome of merging one update into the current
// snapshot.
type MergeResult struct {
	Order         *models.Order
	Applied       bool
	StatusChanged bool
	From          models.Status
	To            models.Status
}

// Merge applies incoming to current when current is nil or incoming carries
// an updated_at strictly later than current's. Anything else, including a
// patch for another order, leaves current untouched. current is never
// mutated.
func Merge(current *models.Order, incoming models.OrderPatch) MergeResult {
	if current != nil {
		stale := incoming.UpdatedAt == nil || !incoming.UpdatedAt.After(current.UpdatedAt)
		foreign := incoming.ID != nil && current.ID != "" && *incoming.ID != current.ID
		if stale || foreign {
			return MergeResult{Order: current, From: current.Status, To: current.Status}
		}
	}

	next := &models.Order{}
	if current != nil {
		next = current.Clone()
	}
	applyPatch(next, incoming)

	res := MergeResult{Order: next, Applied: true, To: next.Status}
	if current != nil {
		res.From = current.Status
		res.StatusChanged = current.Status != next.Status
	}
	return res
}

// ApplyUpdate returns the snapshot after merging incoming into current.
func ApplyUpdate(current *models.Order, incoming models.OrderPatch) *models.Order {
	return Merge(current, incoming).Order
}

func applyPatch(o *models.Order, p models.OrderPatch) {
	if p.ID != nil {
		o.ID = *p.ID
	}
	if p.OrderNumber != nil {
		o.OrderNumber = *p.OrderNumber
	}
	if p.CustomerName != nil {
		o.CustomerName = *p.CustomerName
	}
	if p.CustomerEmail != nil {
		o.CustomerEmail = *p.CustomerEmail
	}
	if p.CustomerPhone != nil {
		v := *p.CustomerPhone
		o.CustomerPhone = &v
	}
	if p.CustomerAddress != nil {
		v := *p.CustomerAddress
		o.CustomerAddress = &v
	}
	if p.TotalAmount != nil {
		o.TotalAmount = *p.TotalAmount
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	// Push rows carry no items; keep the ones we have unless a snapshot
	// brings a new list.
	if p.Items != nil {
		o.Items = (&models.Order{Items: p.Items}).Clone().Items
	}
	if p.CreatedAt != nil {
		o.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		o.UpdatedAt = *p.UpdatedAt
	}
}

// View is the display projection of an order.
type View struct {
	OrderNumber        string        `json:"orderNumber"`
	Status             models.Status `json:"status"`
	StatusLabel        string        `json:"statusLabel"`
	ProgressIndex      int           `json:"progressIndex"`
	ProgressSteps      int           `json:"progressSteps"`
	ProgressPercentage float64       `json:"progressPercentage"`
	IsTerminal         bool          `json:"isTerminal"`
	// Halted marks a cancelled order: the bar stops instead of filling.
	Halted bool `json:"halted"`
}

// ViewOf projects o for display in langCode. Unknown statuses are shown as
// pending.
func ViewOf(o *models.Order, langCode string) View {
	st := o.Status.Normalize()
	return View{
		OrderNumber:        o.OrderNumber,
		Status:             st,
		StatusLabel:        StatusLabel(st, langCode),
		ProgressIndex:      st.Index(),
		ProgressSteps:      len(models.StatusFlow),
		ProgressPercentage: st.ProgressPercentage(),
		IsTerminal:         st.IsTerminal(),
		Halted:             st == models.StatusCancelled,
	}
}

func StatusLabel(s models.Status, langCode string) string {
	return lang.T(langCode, "status_"+string(s.Normalize()))
}

// OrderState owns the current snapshot. Push events and poll results both go
// through Apply, so they are merged one at a time.
type OrderState struct {
	mu      sync.Mutex
	current *models.Order
}

func NewOrderState() *OrderState {
	return &OrderState{}
}

// Apply merges p into the snapshot and commits the result. The returned
// order is a copy.
func (s *OrderState) Apply(p models.OrderPatch) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Merge(s.current, p)
	if res.Applied {
		s.current = res.Order
	}
	res.Order = res.Order.Clone()
	return res
}

// Replace installs o as the snapshot regardless of timestamps.
func (s *OrderState) Replace(o *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = o.Clone()
}

func (s *OrderState) Reset() {
	s.Replace(nil)
}

func (s *OrderState) Current() *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}
