package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-storefront-core/internal/catalog"
	"github.com/ariefcatur/go-storefront-core/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-core/internal/kafka"
	"github.com/ariefcatur/go-storefront-core/internal/orders"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *Service
	store  *orders.MemoryStore
	ledger *inventory.MemoryLedger
	mr     *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ledger := inventory.NewMemoryLedger(inventory.Policy{}, catalog.Product{
		ID: "jacket", InStock: true, Sizes: catalog.Sizes{{Label: "M", Stock: 3}},
	})
	store := orders.NewMemoryStore()
	o := &orders.Order{
		ID: "o-1", Number: "KI-0905-001", UserID: "user-1",
		Status: orders.StatusPending, PaymentStatus: orders.PaymentPending,
		Lines: []orders.Line{{ProductID: "jacket", Size: "M", Quantity: 2}},
	}
	require.NoError(t, store.Insert(context.Background(), o))
	require.NoError(t, ledger.Reserve(context.Background(), orders.StockLines(o.Lines), o.ID))

	return &fixture{
		svc:    &Service{Lifecycle: &orders.Service{Store: store, Ledger: ledger}, Redis: rdb, Name: "fulfillment"},
		store:  store,
		ledger: ledger,
		mr:     mr,
	}
}

func message(t *testing.T, eventID string, p orders.StatusChangeRequestedPayload) kafkago.Message {
	t.Helper()
	env, err := orders.NewEnvelope(orders.EventStatusChangeRequested, "warehouse", p.OrderNumber, p)
	require.NoError(t, err)
	env.EventID = eventID
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{
		Key:     orders.PartitionKey(p.OrderNumber),
		Value:   b,
		Headers: kafkax.EventHeaders(orders.EventStatusChangeRequested, 1),
	}
}

func (f *fixture) order(t *testing.T) orders.Order {
	t.Helper()
	o, err := f.store.FindByNumber(context.Background(), "KI-0905-001")
	require.NoError(t, err)
	return o
}

func TestAppliesStatusAndPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.HandleStatusRequested(ctx, message(t, "e-1", orders.StatusChangeRequestedPayload{
		OrderNumber: "KI-0905-001", Status: orders.StatusProcessing, PaymentStatus: orders.PaymentPaid,
	}))
	require.NoError(t, err)

	o := f.order(t)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.True(t, f.mr.Exists("dedup:fulfillment:e-1"))
}

func TestCancelRequestRestocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := message(t, "e-2", orders.StatusChangeRequestedPayload{
		OrderNumber: "KI-0905-001", Status: orders.StatusCancelled, Reason: "courier lost parcel",
	})
	require.NoError(t, f.svc.HandleStatusRequested(ctx, msg))
	n, _ := f.ledger.Stock("jacket", "M")
	assert.Equal(t, 3, n)
	assert.Equal(t, "courier lost parcel", f.order(t).CancelReason)

	// redelivery after the dedup key expired still leaves stock alone
	f.mr.Del("dedup:fulfillment:e-2")
	require.NoError(t, f.svc.HandleStatusRequested(ctx, msg))
	n, _ = f.ledger.Stock("jacket", "M")
	assert.Equal(t, 3, n)
}

type flakyLedger struct {
	*inventory.MemoryLedger
	fails int
}

func (l *flakyLedger) Restore(ctx context.Context, orderRef string, lines []inventory.Line) error {
	if l.fails > 0 {
		l.fails--
		return errors.New("connection reset")
	}
	return l.MemoryLedger.Restore(ctx, orderRef, lines)
}

func TestRedeliveredCancelRestocks(t *testing.T) {
	f := newFixture(t)
	f.svc.Lifecycle.Ledger = &flakyLedger{MemoryLedger: f.ledger, fails: 1}
	ctx := context.Background()

	msg := message(t, "e-9", orders.StatusChangeRequestedPayload{
		OrderNumber: "KI-0905-001", Status: orders.StatusCancelled, Reason: "payment reversed",
	})
	require.Error(t, f.svc.HandleStatusRequested(ctx, msg))
	assert.Equal(t, orders.StatusCancelled, f.order(t).Status)
	assert.False(t, f.mr.Exists("dedup:fulfillment:e-9"))
	n, _ := f.ledger.Stock("jacket", "M")
	assert.Equal(t, 1, n)

	require.NoError(t, f.svc.HandleStatusRequested(ctx, msg))
	n, _ = f.ledger.Stock("jacket", "M")
	assert.Equal(t, 3, n)
	assert.True(t, f.mr.Exists("dedup:fulfillment:e-9"))
}

func TestDuplicateEventIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mr.Set("dedup:fulfillment:e-3", "1")

	err := f.svc.HandleStatusRequested(ctx, message(t, "e-3", orders.StatusChangeRequestedPayload{
		OrderNumber: "KI-0905-001", Status: orders.StatusProcessing,
	}))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, f.order(t).Status)
}

func TestRejectedRequestsAreCommitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		id string
		p  orders.StatusChangeRequestedPayload
	}{
		{"e-4", orders.StatusChangeRequestedPayload{OrderNumber: "KI-0905-001", Status: orders.StatusCompleted}},
		{"e-5", orders.StatusChangeRequestedPayload{OrderNumber: "KI-0905-404", Status: orders.StatusProcessing}},
		{"e-6", orders.StatusChangeRequestedPayload{}},
	}
	for _, tc := range cases {
		assert.NoError(t, f.svc.HandleStatusRequested(ctx, message(t, tc.id, tc.p)), tc.id)
	}
	assert.Equal(t, orders.StatusPending, f.order(t).Status)

	assert.NoError(t, f.svc.HandleStatusRequested(ctx, kafkago.Message{Value: []byte("{")}))
}

func TestIgnoresOtherEventTypes(t *testing.T) {
	f := newFixture(t)
	msg := message(t, "e-7", orders.StatusChangeRequestedPayload{
		OrderNumber: "KI-0905-001", Status: orders.StatusProcessing,
	})
	msg.Headers = kafkax.EventHeaders(orders.EventOrderPlaced, 1)

	require.NoError(t, f.svc.HandleStatusRequested(context.Background(), msg))
	assert.Equal(t, orders.StatusPending, f.order(t).Status)
}

type brokenStore struct{ orders.Store }

func (brokenStore) FindByNumber(context.Context, string) (orders.Order, error) {
	return orders.Order{}, errors.New("connection reset")
}

func TestStoreFailureIsRedelivered(t *testing.T) {
	f := newFixture(t)
	f.svc.Lifecycle = &orders.Service{Store: brokenStore{f.store}}

	err := f.svc.HandleStatusRequested(context.Background(), message(t, "e-8", orders.StatusChangeRequestedPayload{
		OrderNumber: "KI-0905-001", Status: orders.StatusProcessing,
	}))
	require.Error(t, err)
	assert.False(t, f.mr.Exists("dedup:fulfillment:e-8"))
}
