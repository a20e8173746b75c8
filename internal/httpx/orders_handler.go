package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-storefront-core/internal/logx"
	"github.com/ariefcatur/go-storefront-core/internal/orders"
	"github.com/ariefcatur/go-storefront-core/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Store     orders.Store
	Lifecycle *orders.Service
	Redis     redis.Cmdable
}

type StatusReq struct {
	Status        orders.Status        `json:"status,omitempty"`
	PaymentStatus orders.PaymentStatus `json:"payment_status,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{number}", h.getOrder)
	r.Post("/orders/{number}/status", h.changeStatus)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	ctx := r.Context()
	key := fmt.Sprintf(redisx.KeyOrderStatus, number)

	// 1) cache
	if h.Redis != nil {
		if s, ok, _ := redisx.GetString(ctx, h.Redis, key); ok {
			var o orders.Order
			if err := json.Unmarshal([]byte(s), &o); err == nil {
				h.writeOwned(w, r, o)
				return
			}
		}
	}

	// 2) database
	o, err := h.Store.FindByNumber(ctx, number)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.Redis != nil {
		if b, err := json.Marshal(o); err == nil {
			_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
		}
	}
	h.writeOwned(w, r, o)
}

// writeOwned hides orders placed by another signed-in user.
func (h *OrdersHandler) writeOwned(w http.ResponseWriter, r *http.Request, o orders.Order) {
	if o.UserID != "" && o.UserID != r.Header.Get(HeaderUserID) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Status == "" && req.PaymentStatus == "" {
		writeError(w, http.StatusBadRequest, "status or payment_status required")
		return
	}
	number := chi.URLParam(r, "number")
	ctx := r.Context()

	var (
		o   orders.Order
		err error
	)
	if req.Status != "" {
		o, err = h.Lifecycle.Transition(ctx, number, req.Status, req.Reason)
	}
	if err == nil && req.PaymentStatus != "" {
		o, err = h.Lifecycle.SetPaymentStatus(ctx, number, req.PaymentStatus)
	}

	if h.Redis != nil {
		if derr := h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, number)).Err(); derr != nil {
			logx.FromContext(ctx, nil).Warn("order_cache_evict_failed", zap.String("order_number", number), zap.Error(derr))
		}
	}

	var te *orders.TransitionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, o)
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &te), errors.Is(err, orders.ErrStaleStatus):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
