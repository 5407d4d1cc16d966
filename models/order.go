package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a row from the orders table with its nested items.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   *string         `json:"customer_phone,omitempty"`
	CustomerAddress *string         `json:"customer_address,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Status          Status          `json:"status"`
	Items           []OrderItem     `json:"order_items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand orders out without sharing
// the item slice or optional fields.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.CustomerPhone = cloneString(o.CustomerPhone)
	c.CustomerAddress = cloneString(o.CustomerAddress)
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		for i, it := range o.Items {
			c.Items[i] = it.clone()
		}
	}
	return &c
}

// OrderItem is one line of an order. Older rows carry the price as
// product_price, newer ones as unit_price; both decode into Price.
type OrderItem struct {
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	SpecialRequests *string         `json:"special_requests,omitempty"`
	Toppings        []string        `json:"toppings,omitempty"`
}

func (it *OrderItem) UnmarshalJSON(b []byte) error {
	var raw struct {
		ProductName     string           `json:"product_name"`
		Quantity        int              `json:"quantity"`
		Price           *decimal.Decimal `json:"price"`
		ProductPrice    *decimal.Decimal `json:"product_price"`
		UnitPrice       *decimal.Decimal `json:"unit_price"`
		Subtotal        *decimal.Decimal `json:"subtotal"`
		SpecialRequests *string          `json:"special_requests"`
		Toppings        json.RawMessage  `json:"toppings"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*it = OrderItem{
		ProductName:     raw.ProductName,
		Quantity:        raw.Quantity,
		Price:           NormalizePrice(raw.Price, raw.ProductPrice, raw.UnitPrice),
		SpecialRequests: raw.SpecialRequests,
		Toppings:        ParseToppings(raw.Toppings),
	}
	if raw.Subtotal != nil {
		it.Subtotal = *raw.Subtotal
	} else {
		it.Subtotal = it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
	}
	return nil
}

func (it OrderItem) clone() OrderItem {
	c := it
	c.SpecialRequests = cloneString(it.SpecialRequests)
	if it.Toppings != nil {
		c.Toppings = append([]string(nil), it.Toppings...)
	}
	return c
}

// NormalizePrice returns the first non-nil price candidate, or zero.
func NormalizePrice(candidates ...*decimal.Decimal) decimal.Decimal {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return decimal.Zero
}

// ParseToppings accepts either a list of names or a list of objects with a
// name field, which is how the storefront has stored them over time.
func ParseToppings(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return names
	}
	var objs []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil
	}
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		if o.Name != "" {
			out = append(out, o.Name)
		}
	}
	return out
}

// OrderPatch is a partial order as delivered by push events. Nil fields were
// not present in the payload.
type OrderPatch struct {
	ID              *string          `json:"id,omitempty"`
	OrderNumber     *string          `json:"order_number,omitempty"`
	CustomerName    *string          `json:"customer_name,omitempty"`
	CustomerEmail   *string          `json:"customer_email,omitempty"`
	CustomerPhone   *string          `json:"customer_phone,omitempty"`
	CustomerAddress *string          `json:"customer_address,omitempty"`
	TotalAmount     *decimal.Decimal `json:"total_amount,omitempty"`
	PaymentStatus   *PaymentStatus   `json:"payment_status,omitempty"`
	Status          *Status          `json:"status,omitempty"`
	Items           []OrderItem      `json:"order_items,omitempty"`
	CreatedAt       *time.Time       `json:"created_at,omitempty"`
	UpdatedAt       *time.Time       `json:"updated_at,omitempty"`
}

// UnmarshalJSON reads the legacy order_status key as an alias of status.
func (p *OrderPatch) UnmarshalJSON(b []byte) error {
	type patchAlias OrderPatch
	aux := struct {
		*patchAlias
		LegacyStatus *Status `json:"order_status"`
	}{patchAlias: (*patchAlias)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if p.Status == nil && aux.LegacyStatus != nil {
		p.Status = aux.LegacyStatus
	}
	return nil
}

// PatchFromOrder turns a full snapshot into a patch that sets every field.
func PatchFromOrder(o *Order) OrderPatch {
	c := o.Clone()
	items := c.Items
	if items == nil {
		items = []OrderItem{}
	}
	return OrderPatch{
		ID:              &c.ID,
		OrderNumber:     &c.OrderNumber,
		CustomerName:    &c.CustomerName,
		CustomerEmail:   &c.CustomerEmail,
		CustomerPhone:   c.CustomerPhone,
		CustomerAddress: c.CustomerAddress,
		TotalAmount:     &c.TotalAmount,
		PaymentStatus:   &c.PaymentStatus,
		Status:          &c.Status,
		Items:           items,
		CreatedAt:       &c.CreatedAt,
		UpdatedAt:       &c.UpdatedAt,
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
