package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ariefcatur/go-storefront-core/internal/catalog"
	"github.com/ariefcatur/go-storefront-core/internal/inventory"
	"github.com/ariefcatur/go-storefront-core/internal/ordernum"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder(number, ref string) *Order {
	return &Order{
		ID:             uuid.NewString(),
		Number:         number,
		UserID:         "user-1",
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		PaymentRef:     ref,
		Subtotal:       decimal.NewFromInt(21600),
		DiscountAmount: decimal.NewFromInt(1000),
		Total:          decimal.NewFromInt(20600),
		ShippingMethod: "regular",
		Lines: []Line{{
			ProductID: "jacket", ProductName: "Trucker Jacket", Size: "M", Quantity: 2,
			BasePrice: decimal.NewFromInt(12000), UnitPrice: decimal.NewFromInt(10800), LineTotal: decimal.NewFromInt(21600),
		}},
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusShipped, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{"bogus", StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusShipped.Terminal())
	assert.False(t, Status("bogus").Valid())

	assert.True(t, CanTransitionPayment(PaymentPending, PaymentPaid))
	assert.False(t, CanTransitionPayment(PaymentPaid, PaymentFailed))
}

func TestMemoryStoreUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, sampleOrder("KI-0905-001", "pay-1")))
	assert.ErrorIs(t, s.Insert(ctx, sampleOrder("KI-0905-001", "pay-2")), ordernum.ErrDuplicate)
	assert.ErrorIs(t, s.Insert(ctx, sampleOrder("KI-0905-002", "pay-1")), ErrDuplicatePaymentRef)
	require.NoError(t, s.Insert(ctx, sampleOrder("KI-0905-002", "")))
	require.NoError(t, s.Insert(ctx, sampleOrder("KI-0905-003", "")), "empty payment refs never collide")

	o, err := s.FindByPaymentRef(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "KI-0905-001", o.Number)
	assert.False(t, o.CreatedAt.IsZero())

	_, err = s.FindByNumber(ctx, "KI-0905-999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMaxSequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, n := range []string{"KI-0905-001", "KI-0905-012", "KI-0905-1000", "KI-0605-050", "XX-0905-070"} {
		require.NoError(t, s.Insert(ctx, sampleOrder(n, "")))
	}

	top, err := s.MaxSequence(ctx, "KI-0905")
	require.NoError(t, err)
	assert.Equal(t, 1000, top)

	top, err = s.MaxSequence(ctx, "KI-0106")
	require.NoError(t, err)
	assert.Zero(t, top)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, sampleOrder("KI-0905-001", "")))

	o, err := s.FindByNumber(ctx, "KI-0905-001")
	require.NoError(t, err)
	o.Lines[0].Quantity = 99

	again, err := s.FindByNumber(ctx, "KI-0905-001")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Lines[0].Quantity)
}

func newService(t *testing.T, stock int) (*Service, *MemoryStore, *inventory.MemoryLedger) {
	t.Helper()
	ledger := inventory.NewMemoryLedger(inventory.Policy{}, catalog.Product{
		ID: "jacket", InStock: true, Sizes: catalog.Sizes{{Label: "M", Stock: stock}},
	})
	store := NewMemoryStore()
	return &Service{Store: store, Ledger: ledger}, store, ledger
}

func TestCancelRestoresSoldStock(t *testing.T) {
	svc, store, ledger := newService(t, 5)
	ctx := context.Background()

	o := sampleOrder("KI-0905-001", "")
	require.NoError(t, store.Insert(ctx, o))
	require.NoError(t, ledger.Reserve(ctx, StockLines(o.Lines), o.ID))
	stock, _ := ledger.Stock("jacket", "M")
	require.Equal(t, 3, stock)

	got, err := svc.Cancel(ctx, o.Number, "customer request")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "customer request", got.CancelReason)

	stock, _ = ledger.Stock("jacket", "M")
	assert.Equal(t, 5, stock)

	stored, err := store.FindByNumber(ctx, o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)

	_, err = svc.Cancel(ctx, o.Number, "again")
	var te *TransitionError
	assert.ErrorAs(t, err, &te)

	require.NoError(t, svc.Restock(ctx, stored), "a second restock is a no-op")
	stock, _ = ledger.Stock("jacket", "M")
	assert.Equal(t, 5, stock)
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

func TestRepeatedCancelFinishesFailedRestock(t *testing.T) {
	svc, store, ledger := newService(t, 5)
	svc.Ledger = &flakyLedger{MemoryLedger: ledger, fails: 1}
	ctx := context.Background()

	o := sampleOrder("KI-0905-001", "")
	require.NoError(t, store.Insert(ctx, o))
	require.NoError(t, ledger.Reserve(ctx, StockLines(o.Lines), o.ID))

	_, err := svc.Cancel(ctx, o.Number, "customer request")
	require.ErrorContains(t, err, "connection reset")
	stored, err := store.FindByNumber(ctx, o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	stock, _ := ledger.Stock("jacket", "M")
	assert.Equal(t, 3, stock)

	got, err := svc.Cancel(ctx, o.Number, "customer request")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusCancelled, got.Status)
	stock, _ = ledger.Stock("jacket", "M")
	assert.Equal(t, 5, stock)
}

func TestRestockAfterClampedSale(t *testing.T) {
	ledger := inventory.NewMemoryLedger(inventory.Policy{AllowOversellClamp: true}, catalog.Product{
		ID: "jacket", InStock: true, Sizes: catalog.Sizes{{Label: "M", Stock: 1}},
	})
	store := NewMemoryStore()
	svc := &Service{Store: store, Ledger: ledger}
	ctx := context.Background()

	o := sampleOrder("KI-0905-001", "")
	require.NoError(t, store.Insert(ctx, o))
	require.NoError(t, ledger.Reserve(ctx, StockLines(o.Lines), o.ID))
	stock, _ := ledger.Stock("jacket", "M")
	require.Equal(t, 0, stock)

	_, err := svc.Cancel(ctx, o.Number, "oversold")
	require.NoError(t, err)
	stock, _ = ledger.Stock("jacket", "M")
	assert.Equal(t, 1, stock, "only the clamped unit comes back")
}

func TestCancelWithoutSaleLeavesStock(t *testing.T) {
	svc, store, ledger := newService(t, 5)
	ctx := context.Background()

	o := sampleOrder("KI-0905-001", "")
	require.NoError(t, store.Insert(ctx, o))

	_, err := svc.Cancel(ctx, o.Number, "reserve failed")
	require.NoError(t, err)
	stock, _ := ledger.Stock("jacket", "M")
	assert.Equal(t, 5, stock)
}

func TestTransitionHappyPath(t *testing.T) {
	svc, store, _ := newService(t, 5)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, sampleOrder("KI-0905-001", "")))

	for _, to := range []Status{StatusProcessing, StatusShipped, StatusCompleted} {
		o, err := svc.Transition(ctx, "KI-0905-001", to, "ignored")
		require.NoError(t, err)
		assert.Equal(t, to, o.Status)
		assert.Empty(t, o.CancelReason)
	}

	_, err := svc.Transition(ctx, "KI-0905-404", StatusProcessing, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusIsConditional(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	o := sampleOrder("KI-0905-001", "")
	require.NoError(t, store.Insert(ctx, o))

	require.NoError(t, store.UpdateStatus(ctx, o.ID, StatusPending, StatusProcessing, ""))
	assert.ErrorIs(t, store.UpdateStatus(ctx, o.ID, StatusPending, StatusCancelled, "late"), ErrStaleStatus)
}

func TestSetPaymentStatus(t *testing.T) {
	svc, store, _ := newService(t, 5)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, sampleOrder("KI-0905-001", "pay-1")))

	o, err := svc.SetPaymentStatus(ctx, "KI-0905-001", PaymentPaid)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)

	_, err = svc.SetPaymentStatus(ctx, "KI-0905-001", PaymentFailed)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "paid", te.From)
}

func TestOrderPlacedEnvelope(t *testing.T) {
	o := sampleOrder("KI-0905-001", "pay-1")
	ev, err := NewEnvelope(EventOrderPlaced, "storefront-api", o.Number, PlacedPayload(*o))
	require.NoError(t, err)
	assert.Equal(t, 1, ev.EventVersion)
	assert.NotEmpty(t, ev.EventID)

	var p OrderPlacedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, "KI-0905-001", p.OrderNumber)
	assert.True(t, decimal.NewFromInt(20600).Equal(p.Total))
	assert.Equal(t, []byte("KI-0905-001"), PartitionKey(o.Number))
}
