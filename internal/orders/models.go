package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Address is the shipping address snapshot taken at checkout.
type Address struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Order is immutable once inserted apart from Status, PaymentStatus,
// CancelReason and UpdatedAt.
type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Status          Status          `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentRef      string          `json:"payment_ref,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Total           decimal.Decimal `json:"total"`
	PromotionCode   string          `json:"promotion_code,omitempty"`
	ShippingMethod  string          `json:"shipping_method"`
	ShippingAddress Address         `json:"shipping_address"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	Lines           []Line          `json:"lines"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Line is the per-product snapshot stored with the order.
type Line struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Size        string          `json:"size"`
	Quantity    int             `json:"quantity"`
	BasePrice   decimal.Decimal `json:"base_price"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

func (o *Order) clone() Order {
	c := *o
	c.Lines = append([]Line(nil), o.Lines...)
	return c
}
