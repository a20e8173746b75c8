package checkout

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-core/internal/inventory"
	"github.com/ariefcatur/go-storefront-core/internal/promotion"
)

// State is the furthest step a checkout attempt completed.
type State int

const (
	StateValidating State = iota
	StateStockChecked
	StateNumberAllocated
	StateOrderPersisted
	StateStockReserved
	StatePromotionRecorded
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	"validating", "stock_checked", "number_allocated", "order_persisted",
	"stock_reserved", "promotion_recorded", "complete", "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindInsufficientStock    Kind = "insufficient_stock"
	KindPromotionInvalid     Kind = "promotion_invalid"
	KindOrderNumberExhausted Kind = "order_number_exhausted"
	KindPersistenceFailure   Kind = "persistence_failure"
	KindStockReserveFailure  Kind = "stock_reserve_failure"
	KindCanceled             Kind = "canceled"
	KindOrderCancelled       Kind = "order_cancelled"
	// KindNotificationFailure is logged and counted, never returned.
	KindNotificationFailure  Kind = "downstream_notification_failure"
)

// Error is the only error type Checkout returns. State is the last step that
// completed before the failure; any order created past StateOrderPersisted has
// already been cancelled and restocked when the error is returned.
type Error struct {
	Kind        Kind
	State       State
	OrderNumber string
	PaymentRef  string
	Shortages   []inventory.Shortage
	Reason      promotion.Reason
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "checkout %s after %s", e.Kind, e.State)
	if e.OrderNumber != "" {
		fmt.Fprintf(&b, " order=%s", e.OrderNumber)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// OperatorAction reports a failure after a confirmed payment that left no
// valid order behind. Validation failures before the stock check, and a
// caller giving up before the order row exists, are not included: the
// customer can simply retry with the same payment reference.
func (e *Error) OperatorAction() bool {
	if e.PaymentRef == "" {
		return false
	}
	if e.Kind == KindCanceled {
		return e.State >= StateOrderPersisted
	}
	return e.State >= StateStockChecked
}
