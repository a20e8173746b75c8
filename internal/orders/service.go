package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-core/internal/inventory"
	"go.uber.org/zap"
)

// Service applies lifecycle changes to stored orders. Cancelling an order
// returns whatever stock was sold to it.
type Service struct {
	Store  Store
	Ledger inventory.Ledger
	Log    *zap.Logger
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Transition moves an order to status to. The update is conditional on the
// status read, so a concurrent change surfaces as ErrStaleStatus.
func (s *Service) Transition(ctx context.Context, number string, to Status, reason string) (Order, error) {
	o, err := s.Store.FindByNumber(ctx, number)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(o.Status, to) {
		// a repeated cancel finishes a restock that failed after the status write
		if o.Status == StatusCancelled && to == StatusCancelled {
			if err := s.Restock(ctx, o); err != nil {
				return o, err
			}
		}
		return o, &TransitionError{From: string(o.Status), To: string(to)}
	}
	if to != StatusCancelled {
		reason = ""
	}
	if err := s.Store.UpdateStatus(ctx, o.ID, o.Status, to, reason); err != nil {
		return o, fmt.Errorf("order %s %s -> %s: %w", number, o.Status, to, err)
	}
	from := o.Status
	o.Status = to
	if reason != "" {
		o.CancelReason = reason
	}
	s.log().Info("order_status_changed",
		zap.String("order_number", number),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if to == StatusCancelled {
		if err := s.Restock(ctx, o); err != nil {
			return o, err
		}
	}
	return o, nil
}

func (s *Service) Cancel(ctx context.Context, number, reason string) (Order, error) {
	return s.Transition(ctx, number, StatusCancelled, reason)
}

// Restock returns the order's lines to stock, each bounded by what the ledger
// still shows as sold to the order. A clamped sale gets back only what it
// took, and calling it again after a full return is a no-op.
func (s *Service) Restock(ctx context.Context, o Order) error {
	if s.Ledger == nil || len(o.Lines) == 0 {
		return nil
	}
	lines, err := s.unreturned(ctx, o)
	if err != nil {
		s.log().Error("restock_failed", zap.String("order_number", o.Number), zap.Error(err))
		return fmt.Errorf("restock order %s: %w", o.Number, err)
	}
	if len(lines) == 0 {
		s.log().Debug("restock_skipped", zap.String("order_number", o.Number))
		return nil
	}
	err = s.Ledger.Restore(ctx, o.ID, lines)
	switch {
	case errors.Is(err, inventory.ErrRestoreExceedsSale):
		// a concurrent restock got there first
		s.log().Debug("restock_skipped", zap.String("order_number", o.Number), zap.Error(err))
		return nil
	case err != nil:
		s.log().Error("restock_failed", zap.String("order_number", o.Number), zap.Error(err))
		return fmt.Errorf("restock order %s: %w", o.Number, err)
	}
	s.log().Info("order_restocked", zap.String("order_number", o.Number), zap.Int("lines", len(lines)))
	return nil
}

func (s *Service) unreturned(ctx context.Context, o Order) ([]inventory.Line, error) {
	type sizeKey struct{ product, size string }
	want := map[sizeKey]int{}
	var keys []sizeKey
	for _, l := range StockLines(o.Lines) {
		k := sizeKey{l.ProductID, l.Size}
		if _, ok := want[k]; !ok {
			keys = append(keys, k)
		}
		want[k] += l.Quantity
	}

	out := make([]inventory.Line, 0, len(keys))
	for _, k := range keys {
		h, err := s.Ledger.History(ctx, k.product, k.size)
		if err != nil {
			return nil, err
		}
		if q := min(want[k], inventory.SoldQuantity(h, o.ID)); q > 0 {
			out = append(out, inventory.Line{ProductID: k.product, Size: k.size, Quantity: q})
		}
	}
	return out, nil
}

func (s *Service) SetPaymentStatus(ctx context.Context, number string, to PaymentStatus) (Order, error) {
	o, err := s.Store.FindByNumber(ctx, number)
	if err != nil {
		return Order{}, err
	}
	if !CanTransitionPayment(o.PaymentStatus, to) {
		return o, &TransitionError{From: string(o.PaymentStatus), To: string(to)}
	}
	if err := s.Store.UpdatePaymentStatus(ctx, o.ID, o.PaymentStatus, to); err != nil {
		return o, fmt.Errorf("order %s payment %s -> %s: %w", number, o.PaymentStatus, to, err)
	}
	o.PaymentStatus = to
	return o, nil
}

// StockLines converts order lines to ledger lines.
func StockLines(lines []Line) []inventory.Line {
	out := make([]inventory.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, inventory.Line{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity})
	}
	return out
}
