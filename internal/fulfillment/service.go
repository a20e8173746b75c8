package fulfillment

import (
	"context"
	"errors"
	"fmt"

	kafkax "github.com/ariefcatur/go-storefront-core/internal/kafka"
	"github.com/ariefcatur/go-storefront-core/internal/logx"
	"github.com/ariefcatur/go-storefront-core/internal/orders"
	"github.com/ariefcatur/go-storefront-core/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Service applies status change requests coming from warehouse and payment
// systems to stored orders.
type Service struct {
	Lifecycle *orders.Service
	Redis     redis.Cmdable // optional dedup store
	Name      string
	Log       *zap.Logger
}

// HandleStatusRequested is installed as the consumer handler. A request that
// no longer fits the order's state is logged and committed; only store
// failures are returned so the message is redelivered.
func (s *Service) HandleStatusRequested(ctx context.Context, m kafkago.Message) error {
	if t, ok := kafkax.Header(m, kafkax.HeaderEventType); ok && t != orders.EventStatusChangeRequested {
		return nil
	}

	// 1) decode envelope
	env, err := kafkax.Decode[orders.Envelope](m.Value)
	if err != nil {
		s.log(ctx).Warn("status_request_undecodable", zap.Error(err), zap.Int64("offset", m.Offset))
		return nil
	}
	if env.EventType != orders.EventStatusChangeRequested {
		return nil
	}
	log := s.log(ctx).With(zap.String("event_id", env.EventID), zap.String("trace_id", env.TraceID))

	// 2) dedup via event_id
	dkey := fmt.Sprintf(redisx.KeyDedup, s.Name, env.EventID)
	if s.Redis != nil {
		if seen, err := redisx.Exists(ctx, s.Redis, dkey); err == nil && seen {
			log.Debug("status_request_duplicate")
			return nil
		}
	}

	// 3) payload
	p, err := kafkax.Decode[orders.StatusChangeRequestedPayload](env.Payload)
	if err != nil || p.OrderNumber == "" {
		log.Warn("status_request_invalid_payload", zap.Error(err))
		return nil
	}
	log = log.With(zap.String("order_number", p.OrderNumber))

	if err := s.apply(ctx, p); err != nil {
		var te *orders.TransitionError
		switch {
		case errors.As(err, &te), errors.Is(err, orders.ErrNotFound):
			log.Warn("status_request_rejected", zap.Error(err))
		default:
			return err
		}
	} else {
		log.Info("status_request_applied",
			zap.String("status", string(p.Status)),
			zap.String("payment_status", string(p.PaymentStatus)))
	}

	if s.Redis != nil {
		if _, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup); err != nil {
			log.Warn("dedup_mark_failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) apply(ctx context.Context, p orders.StatusChangeRequestedPayload) error {
	if p.Status != "" {
		o, err := s.Lifecycle.Transition(ctx, p.OrderNumber, p.Status, p.Reason)
		var te *orders.TransitionError
		// a redelivered request finds the order already moved; a repeated
		// cancel has already retried its restock inside Transition
		if errors.As(err, &te) && o.Status == p.Status {
			err = nil
		}
		if err != nil {
			return err
		}
	}
	if p.PaymentStatus != "" {
		o, err := s.Lifecycle.SetPaymentStatus(ctx, p.OrderNumber, p.PaymentStatus)
		var te *orders.TransitionError
		if errors.As(err, &te) && o.PaymentStatus == p.PaymentStatus {
			err = nil
		}
		return err
	}
	return nil
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logx.FromContext(ctx, s.Log)
}
