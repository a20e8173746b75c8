package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-storefront-core/internal/checkout"
	"github.com/ariefcatur/go-storefront-core/internal/inventory"
	"github.com/ariefcatur/go-storefront-core/internal/logx"
	"github.com/ariefcatur/go-storefront-core/internal/orders"
	"github.com/ariefcatur/go-storefront-core/internal/pricing"
	"github.com/ariefcatur/go-storefront-core/internal/promotion"
	"github.com/ariefcatur/go-storefront-core/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	HeaderUserID       = "X-User-Id"
	HeaderSessionToken = "X-Session-Token"
)

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type CheckoutHandler struct {
	Checkout Checkouter
	Orders   orders.Store
	// Redis is optional; it short-circuits repeated payment references.
	Redis redis.Cmdable
}

type CheckoutReq struct {
	Items                []pricing.Item    `json:"items"`
	Shipping             checkout.Shipping `json:"shipping"`
	PromotionCode        string            `json:"promotion_code"`
	SkipInvalidPromotion bool              `json:"skip_invalid_promotion"`
	PaymentRef           string            `json:"payment_ref"`
}

type ErrorResp struct {
	Error          string               `json:"error"`
	Kind           checkout.Kind        `json:"kind"`
	State          checkout.State       `json:"state"`
	OrderNumber    string               `json:"order_number,omitempty"`
	Shortages      []inventory.Shortage `json:"shortages,omitempty"`
	Reason         promotion.Reason     `json:"reason,omitempty"`
	OperatorAction bool                 `json:"operator_action,omitempty"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx := r.Context()
	user := r.Header.Get(HeaderUserID)
	owner := user
	if owner == "" {
		owner = r.Header.Get(HeaderSessionToken)
	}

	if res, ok := h.fromIdempotencyKey(ctx, req.PaymentRef, user); ok {
		writeJSON(w, http.StatusOK, res)
		return
	}

	res, err := h.Checkout.Checkout(ctx, checkout.Request{
		UserID:               user,
		CartOwner:            owner,
		Items:                req.Items,
		Shipping:             req.Shipping,
		PromotionCode:        req.PromotionCode,
		SkipInvalidPromotion: req.SkipInvalidPromotion,
		PaymentRef:           req.PaymentRef,
	})
	if err != nil {
		writeCheckoutError(w, err)
		return
	}

	if req.PaymentRef != "" && h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyIdemCheckout, req.PaymentRef)
		if err := h.Redis.Set(ctx, key, res.Order.Number, redisx.TTLIdempotency).Err(); err != nil {
			logx.FromContext(ctx, nil).Warn("idempotency_key_write_failed", zap.Error(err))
		}
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

// fromIdempotencyKey answers a repeated payment reference from Redis without
// running the orchestrator. Any miss or error falls through to the database
// check inside Checkout.
func (h *CheckoutHandler) fromIdempotencyKey(ctx context.Context, ref, user string) (*checkout.Result, bool) {
	if ref == "" || h.Redis == nil || h.Orders == nil {
		return nil, false
	}
	number, ok, err := redisx.GetString(ctx, h.Redis, fmt.Sprintf(redisx.KeyIdemCheckout, ref))
	if err != nil || !ok {
		return nil, false
	}
	o, err := h.Orders.FindByNumber(ctx, number)
	if err != nil || o.UserID != user || o.PaymentRef != ref || o.Status == orders.StatusCancelled {
		return nil, false
	}
	return &checkout.Result{Order: o, State: checkout.StateComplete, Replayed: true}, true
}

func writeCheckoutError(w http.ResponseWriter, err error) {
	var ce *checkout.Error
	if !errors.As(err, &ce) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, checkoutStatus(ce), ErrorResp{
		Error:          ce.Error(),
		Kind:           ce.Kind,
		State:          ce.State,
		OrderNumber:    ce.OrderNumber,
		Shortages:      ce.Shortages,
		Reason:         ce.Reason,
		OperatorAction: ce.OperatorAction(),
	})
}

func checkoutStatus(e *checkout.Error) int {
	if e.OperatorAction() {
		return http.StatusBadGateway
	}
	switch e.Kind {
	case checkout.KindInvalidRequest:
		return http.StatusBadRequest
	case checkout.KindInsufficientStock, checkout.KindStockReserveFailure, checkout.KindOrderCancelled:
		return http.StatusConflict
	case checkout.KindPromotionInvalid:
		return http.StatusUnprocessableEntity
	case checkout.KindOrderNumberExhausted, checkout.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
