package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/checkout"
	"github.com/ariefcatur/go-storefront-core/internal/pricing"
	"github.com/ariefcatur/go-storefront-core/internal/promotion"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type PromotionsHandler struct {
	Catalog    checkout.ProductReader
	Promotions *promotion.Service
	Now        func() time.Time
}

type ValidatePromotionReq struct {
	Code  string         `json:"code"`
	Items []pricing.Item `json:"items"`
}

type ValidatePromotionResp struct {
	Code           string           `json:"code"`
	Valid          bool             `json:"valid"`
	Reason         promotion.Reason `json:"reason,omitempty"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	Total          decimal.Decimal  `json:"total"`
}

func (h *PromotionsHandler) Register(r chi.Router) {
	r.Post("/promotions/validate", h.validate)
}

func (h *PromotionsHandler) validate(w http.ResponseWriter, r *http.Request) {
	var req ValidatePromotionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	code := promotion.Normalize(req.Code)
	if code == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "code and items required")
		return
	}
	ctx := r.Context()

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := h.Catalog.Products(ctx, ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	lines, subtotal, err := pricing.PriceLines(products, req.Items, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Promotions.Validate(ctx, code, r.Header.Get(HeaderUserID), lines, subtotal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ValidatePromotionResp{
		Code:           code,
		Valid:          res.Valid,
		Reason:         res.Reason,
		Subtotal:       subtotal,
		DiscountAmount: res.DiscountAmount,
		Total:          subtotal.Sub(res.DiscountAmount),
	})
}
