package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/cart"
	"github.com/ariefcatur/go-storefront-core/internal/catalog"
	"github.com/ariefcatur/go-storefront-core/internal/inventory"
	"github.com/ariefcatur/go-storefront-core/internal/logx"
	"github.com/ariefcatur/go-storefront-core/internal/metrics"
	"github.com/ariefcatur/go-storefront-core/internal/ordernum"
	"github.com/ariefcatur/go-storefront-core/internal/orders"
	"github.com/ariefcatur/go-storefront-core/internal/pricing"
	"github.com/ariefcatur/go-storefront-core/internal/promotion"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-storefront-core/internal/checkout")

var (
	ErrEmptyCart       = errors.New("checkout: no items to check out")
	ErrInvalidShipping = errors.New("checkout: shipping method and address are required")
	ErrPaymentRefOwner = errors.New("checkout: payment reference belongs to another order owner")
	ErrOrderCancelled  = errors.New("checkout: the order for this payment was cancelled")
)

const (
	defaultPrefix        = "KI"
	defaultNotifyTimeout = 300 * time.Millisecond
	compensateTimeout    = 5 * time.Second
)

type ProductReader interface {
	Products(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

type Shipping struct {
	Method  string          `json:"method"`
	Cost    decimal.Decimal `json:"cost"`
	Address orders.Address  `json:"address"`
}

// Request is one checkout attempt. When Items is empty the lines are read
// from the cart of CartOwner. PaymentRef is the confirmation token of a
// payment that already succeeded; it makes the request idempotent.
type Request struct {
	UserID               string
	CartOwner            string
	Items                []pricing.Item
	Shipping             Shipping
	PromotionCode        string
	SkipInvalidPromotion bool
	PaymentRef           string
}

type Result struct {
	Order    orders.Order `json:"order"`
	State    State        `json:"state"`
	Replayed bool         `json:"replayed"`
	// DroppedPromotion is set when an invalid code was skipped on request.
	DroppedPromotion promotion.Reason `json:"dropped_promotion,omitempty"`
}

// Orchestrator runs checkouts. The order row is always written before stock
// is taken, and stock before the promotion usage; a failure after the order
// exists cancels it, which also returns any stock it took.
type Orchestrator struct {
	Catalog    ProductReader
	Ledger     inventory.Ledger
	Orders     orders.Store
	Lifecycle  *orders.Service
	Numbers    *ordernum.Allocator
	Promotions *promotion.Service
	Carts      cart.Store
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Log        *zap.Logger

	Prefix        string
	Location      *time.Location
	NotifyTimeout time.Duration
	Now           func() time.Time
}

type attempt struct {
	req      Request
	state    State
	now      time.Time
	lines    []pricing.Line
	subtotal decimal.Decimal
	promo    promotion.Result
	dropped  promotion.Reason
	order    orders.Order
	log      *zap.Logger
}

func (a *attempt) fail(kind Kind, err error) *Error {
	return &Error{Kind: kind, State: a.state, OrderNumber: a.order.Number, PaymentRef: a.req.PaymentRef, Err: err}
}

func (o *Orchestrator) Checkout(ctx context.Context, req Request) (res *Result, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "checkout")
	defer span.End()

	a := &attempt{req: req, now: o.now(), log: logx.FromContext(ctx, o.Log)}
	if req.PaymentRef != "" {
		a.log = a.log.With(zap.String("payment_ref", req.PaymentRef))
	}
	defer func() { o.finish(span, a, res, err, time.Since(started)) }()

	if res, err := o.validate(ctx, a); err != nil || res != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return nil, a.fail(KindCanceled, err)
	}
	if err := o.checkStock(ctx, a); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, a.fail(KindCanceled, err)
	}
	if res, err := o.persist(ctx, a); err != nil || res != nil {
		return res, err
	}

	// From here on an order row exists and every failure must cancel it.
	if err := o.abortIfCanceled(ctx, a); err != nil {
		return nil, err
	}
	if err := o.reserve(ctx, a); err != nil {
		return nil, err
	}
	if err := o.abortIfCanceled(ctx, a); err != nil {
		return nil, err
	}
	if err := o.redeem(ctx, a); err != nil {
		return nil, err
	}
	return o.complete(ctx, a), nil
}

func (o *Orchestrator) validate(ctx context.Context, a *attempt) (*Result, error) {
	ctx, span := tracer.Start(ctx, "checkout.validate")
	defer span.End()

	req := a.req
	if err := checkShipping(req.Shipping); err != nil {
		return nil, a.fail(KindInvalidRequest, err)
	}

	items := req.Items
	if len(items) == 0 && req.CartOwner != "" && o.Carts != nil {
		lines, err := o.Carts.Lines(ctx, req.CartOwner)
		if err != nil {
			return nil, a.fail(KindPersistenceFailure, fmt.Errorf("load cart: %w", err))
		}
		items = cart.Items(lines)
	}
	if len(items) == 0 {
		return nil, a.fail(KindInvalidRequest, ErrEmptyCart)
	}

	var (
		products map[string]catalog.Product
		previous *orders.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = o.Catalog.Products(gctx, productIDs(items))
		return err
	})
	if req.PaymentRef != "" {
		g.Go(func() error {
			prev, err := o.Orders.FindByPaymentRef(gctx, req.PaymentRef)
			switch {
			case errors.Is(err, orders.ErrNotFound):
				return nil
			case err != nil:
				return err
			}
			previous = &prev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, a.fail(KindPersistenceFailure, err)
	}
	if previous != nil {
		return o.replay(ctx, a, *previous)
	}

	lines, subtotal, err := pricing.PriceLines(products, items, a.now)
	switch {
	case errors.Is(err, pricing.ErrUnpurchasable):
		return nil, o.shortage(a, KindInsufficientStock, unpurchasable(products, items), err)
	case err != nil:
		return nil, a.fail(KindInvalidRequest, err)
	}
	a.lines, a.subtotal = lines, subtotal

	code := promotion.Normalize(req.PromotionCode)
	if code == "" {
		return nil, nil
	}
	if o.Promotions == nil {
		return nil, a.fail(KindPromotionInvalid, &promotion.InvalidError{Code: code, Reason: promotion.ReasonNotFound})
	}
	pr, err := o.Promotions.Validate(ctx, code, req.UserID, lines, subtotal)
	if err != nil {
		return nil, a.fail(KindPersistenceFailure, fmt.Errorf("validate promotion: %w", err))
	}
	if pr.Valid {
		a.promo = pr
		return nil, nil
	}
	o.Metrics.PromotionRejected(string(pr.Reason))
	if !req.SkipInvalidPromotion {
		e := a.fail(KindPromotionInvalid, pr.Err(code))
		e.Reason = pr.Reason
		return nil, e
	}
	a.dropped = pr.Reason
	a.log.Info("promotion_dropped", zap.String("code", code), zap.String("reason", string(pr.Reason)))
	return nil, nil
}

func (o *Orchestrator) checkStock(ctx context.Context, a *attempt) error {
	ctx, span := tracer.Start(ctx, "checkout.check_stock")
	defer span.End()

	short, err := o.Ledger.CheckAvailability(ctx, stockLines(a.lines))
	if err != nil {
		return a.fail(KindPersistenceFailure, fmt.Errorf("check stock: %w", err))
	}
	if len(short) > 0 {
		return o.shortage(a, KindInsufficientStock, short, &inventory.InsufficientStockError{Shortages: short})
	}
	a.state = StateStockChecked
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, a *attempt) (*Result, error) {
	ctx, span := tracer.Start(ctx, "checkout.persist")
	defer span.End()

	a.order = o.buildOrder(a)
	insertFailed := false
	claim := func(ctx context.Context, number string) error {
		a.order.Number = number
		err := o.Orders.Insert(ctx, &a.order)
		insertFailed = err != nil && !errors.Is(err, ordernum.ErrDuplicate)
		return err
	}

	number, err := o.Numbers.Allocate(ctx, o.prefix(), a.now.In(o.location()), claim)
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrDuplicatePaymentRef):
		// a concurrent request with the same payment won the insert
		prev, ferr := o.Orders.FindByPaymentRef(ctx, a.req.PaymentRef)
		if ferr != nil {
			a.order.Number = ""
			return nil, a.fail(KindPersistenceFailure, errors.Join(err, ferr))
		}
		return o.replay(ctx, a, prev)
	case errors.Is(err, ordernum.ErrExhausted):
		a.order.Number = ""
		return nil, a.fail(KindOrderNumberExhausted, err)
	case ctx.Err() != nil:
		a.order.Number = ""
		return nil, a.fail(KindCanceled, err)
	default:
		if insertFailed {
			a.state = StateNumberAllocated
		} else {
			a.order.Number = ""
		}
		return nil, a.fail(KindPersistenceFailure, err)
	}

	a.state = StateOrderPersisted
	span.SetAttributes(attribute.String("order.number", number))
	return nil, nil
}

func (o *Orchestrator) reserve(ctx context.Context, a *attempt) error {
	ctx, span := tracer.Start(ctx, "checkout.reserve")
	defer span.End()

	err := o.Ledger.Reserve(ctx, stockLines(a.lines), a.order.ID)
	if err == nil {
		a.state = StateStockReserved
		return nil
	}
	e := a.fail(KindStockReserveFailure, err)
	var short *inventory.InsufficientStockError
	if errors.As(err, &short) {
		e.Shortages = short.Shortages
		o.Metrics.StockShortages(len(short.Shortages))
	}
	if cerr := o.compensate(ctx, a, "stock reservation failed"); cerr != nil {
		e.Err = errors.Join(err, cerr)
	}
	return e
}

func (o *Orchestrator) redeem(ctx context.Context, a *attempt) error {
	if !a.promo.Valid {
		a.state = StatePromotionRecorded
		return nil
	}
	ctx, span := tracer.Start(ctx, "checkout.redeem")
	defer span.End()

	_, err := o.Promotions.Redeem(ctx, promotion.Redemption{
		PromotionID: a.promo.Promotion.ID,
		UserID:      a.req.UserID,
		OrderID:     a.order.ID,
		Discount:    a.promo.DiscountAmount,
	})
	if err == nil {
		a.state = StatePromotionRecorded
		return nil
	}
	e := a.fail(KindPersistenceFailure, err)
	var inv *promotion.InvalidError
	if errors.As(err, &inv) {
		e.Kind, e.Reason = KindPromotionInvalid, inv.Reason
		o.Metrics.PromotionRejected(string(inv.Reason))
	}
	if cerr := o.compensate(ctx, a, "promotion redemption failed"); cerr != nil {
		e.Err = errors.Join(err, cerr)
	}
	return e
}

func (o *Orchestrator) complete(ctx context.Context, a *attempt) *Result {
	a.state = StateComplete

	if o.Carts != nil && a.req.CartOwner != "" {
		if err := o.Carts.Clear(context.WithoutCancel(ctx), a.req.CartOwner); err != nil {
			a.log.Warn("cart_clear_failed", zap.String("owner", a.req.CartOwner), zap.Error(err))
		}
	}
	o.notify(ctx, a)
	return &Result{Order: a.order, State: StateComplete, DroppedPromotion: a.dropped}
}

func (o *Orchestrator) notify(ctx context.Context, a *attempt) {
	if o.Notifier == nil {
		return
	}
	timeout := o.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := o.Notifier.OrderPlaced(ctx, a.order); err != nil {
		o.Metrics.NotificationFailed()
		a.log.Warn("notification_failed", zap.String("kind", string(KindNotificationFailure)),
			zap.String("order_number", a.order.Number), zap.Error(err))
	}
}

func (o *Orchestrator) abortIfCanceled(ctx context.Context, a *attempt) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	e := a.fail(KindCanceled, err)
	if cerr := o.compensate(ctx, a, "checkout canceled"); cerr != nil {
		e.Err = errors.Join(err, cerr)
	}
	return e
}

// compensate cancels the persisted order on a context detached from the
// caller, so an aborted request still cleans up.
func (o *Orchestrator) compensate(ctx context.Context, a *attempt, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	if _, err := o.lifecycle().Cancel(ctx, a.order.Number, reason); err != nil {
		a.log.Error("checkout_compensation_failed",
			zap.String("order_number", a.order.Number), zap.String("reason", reason), zap.Error(err))
		return fmt.Errorf("cancel order %s: %w", a.order.Number, err)
	}
	a.log.Warn("checkout_compensated", zap.String("order_number", a.order.Number), zap.String("reason", reason))
	return nil
}

func (o *Orchestrator) replay(ctx context.Context, a *attempt, prev orders.Order) (*Result, error) {
	if prev.UserID != a.req.UserID {
		return nil, a.fail(KindInvalidRequest, ErrPaymentRefOwner)
	}
	if prev.Status == orders.StatusCancelled {
		a.order, a.state = prev, StateOrderPersisted
		e := a.fail(KindOrderCancelled, ErrOrderCancelled)
		// finish a restock the original compensation could not complete
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
		defer cancel()
		if err := o.lifecycle().Restock(rctx, prev); err != nil {
			a.log.Error("checkout_restock_failed", zap.String("order_number", prev.Number), zap.Error(err))
			e.Err = errors.Join(e.Err, err)
		}
		return nil, e
	}
	a.order, a.state = prev, StateComplete
	return &Result{Order: prev, State: StateComplete, Replayed: true}, nil
}

func (o *Orchestrator) shortage(a *attempt, kind Kind, short []inventory.Shortage, err error) *Error {
	o.Metrics.StockShortages(len(short))
	e := a.fail(kind, err)
	e.Shortages = short
	return e
}

func (o *Orchestrator) finish(span trace.Span, a *attempt, res *Result, err error, took time.Duration) {
	outcome, kind := "ok", ""
	fields := []zap.Field{zap.String("state", a.state.String()), zap.Duration("took", took)}
	if a.order.Number != "" {
		fields = append(fields, zap.String("order_number", a.order.Number))
	}
	if res != nil && res.Replayed {
		outcome = "replayed"
	}

	var ce *Error
	if errors.As(err, &ce) {
		outcome, kind = "error", string(ce.Kind)
		fields = append(fields, zap.String("kind", kind), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
	}
	span.SetAttributes(
		attribute.String("checkout.outcome", outcome),
		attribute.String("checkout.state", a.state.String()),
	)
	o.Metrics.CheckoutDone(outcome, kind, a.state.String(), took)

	if ce != nil && ce.OperatorAction() {
		a.log.Error("checkout_done", append(fields, zap.Bool("operator_action", true))...)
		return
	}
	a.log.Info("checkout_done", append(fields, zap.String("outcome", outcome))...)
}

func (o *Orchestrator) buildOrder(a *attempt) orders.Order {
	discount := a.promo.DiscountAmount
	total := a.subtotal.Sub(discount).Add(a.req.Shipping.Cost)
	if total.IsNegative() {
		total = decimal.Zero
	}
	pay := orders.PaymentPending
	if a.req.PaymentRef != "" {
		pay = orders.PaymentPaid
	}
	lines := make([]orders.Line, 0, len(a.lines))
	for _, l := range a.lines {
		lines = append(lines, orders.Line{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Size:        l.Size,
			Quantity:    l.Quantity,
			BasePrice:   l.BasePrice,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal,
		})
	}
	var code string
	if a.promo.Valid {
		code = a.promo.Promotion.Code
	}
	return orders.Order{
		ID:              uuid.NewString(),
		UserID:          a.req.UserID,
		Status:          orders.StatusPending,
		PaymentStatus:   pay,
		PaymentRef:      a.req.PaymentRef,
		Subtotal:        pricing.Round(a.subtotal),
		DiscountAmount:  pricing.Round(discount),
		ShippingCost:    pricing.Round(a.req.Shipping.Cost),
		Total:           pricing.Round(total),
		PromotionCode:   code,
		ShippingMethod:  a.req.Shipping.Method,
		ShippingAddress: a.req.Shipping.Address,
		Lines:           lines,
	}
}

func (o *Orchestrator) lifecycle() *orders.Service {
	if o.Lifecycle != nil {
		return o.Lifecycle
	}
	return &orders.Service{Store: o.Orders, Ledger: o.Ledger, Log: o.Log}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) prefix() string {
	if o.Prefix == "" {
		return defaultPrefix
	}
	return o.Prefix
}

func (o *Orchestrator) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func checkShipping(s Shipping) error {
	switch {
	case s.Method == "", s.Address.Line1 == "", s.Address.City == "":
		return ErrInvalidShipping
	case s.Cost.IsNegative():
		return fmt.Errorf("%w: negative cost %s", ErrInvalidShipping, s.Cost)
	}
	return nil
}

func productIDs(items []pricing.Item) []string {
	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

func stockLines(lines []pricing.Line) []inventory.Line {
	out := make([]inventory.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, inventory.Line{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity})
	}
	return out
}

func unpurchasable(products map[string]catalog.Product, items []pricing.Item) []inventory.Shortage {
	var out []inventory.Shortage
	for _, it := range items {
		if p, ok := products[it.ProductID]; ok && !p.InStock {
			out = append(out, inventory.Shortage{ProductID: it.ProductID, Size: it.Size, Requested: it.Quantity})
		}
	}
	return out
}
