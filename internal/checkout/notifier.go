package checkout

import (
	"context"
	"encoding/json"

	kafkax "github.com/ariefcatur/go-storefront-core/internal/kafka"
	"github.com/ariefcatur/go-storefront-core/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

// Notifier tells downstream systems about a completed order. It is called
// once per successful checkout with a short deadline; errors are logged only.
type Notifier interface {
	OrderPlaced(ctx context.Context, o orders.Order) error
}

type Publisher interface {
	TryPublish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// EventNotifier publishes an OrderPlaced envelope keyed by order number.
type EventNotifier struct {
	Publisher Publisher
	Producer  string
}

func (n *EventNotifier) OrderPlaced(ctx context.Context, o orders.Order) error {
	env, err := orders.NewEnvelope(orders.EventOrderPlaced, n.Producer, o.Number, orders.PlacedPayload(o))
	if err != nil {
		return err
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return n.Publisher.TryPublish(ctx, orders.PartitionKey(o.Number), b,
		kafkax.EventHeaders(orders.EventOrderPlaced, env.EventVersion)...)
}
