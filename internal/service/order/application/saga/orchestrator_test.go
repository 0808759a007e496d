package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/metrics"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockInventory struct {
	mock.Mock
}

func (m *mockInventory) FetchDetails(ctx context.Context, ids []int64) (map[int64]domain.ProductSnapshot, error) {
	args := m.Called(ctx, ids)
	snapshots, _ := args.Get(0).(map[int64]domain.ProductSnapshot)
	return snapshots, args.Error(1)
}

func (m *mockInventory) ReduceStock(ctx context.Context, batch []domain.StockReservation) error {
	return m.Called(ctx, batch).Error(0)
}

type memoryRepo struct {
	mu      sync.Mutex
	nextID  uint64
	orders  []*domain.Order
	err     error
	block   bool
	ctxErrs []error
}

func (r *memoryRepo) Create(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	r.mu.Lock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	r.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	saved := *order
	saved.ID = r.nextID
	saved.Lines = append([]domain.OrderLine(nil), order.Lines...)
	for i := range saved.Lines {
		saved.Lines[i].OrderID = saved.ID
	}
	r.orders = append(r.orders, &saved)
	return &saved, nil
}

func (r *memoryRepo) FindByID(context.Context, uint64) (*domain.Order, error)      { return nil, nil }
func (r *memoryRepo) FindAll(context.Context) ([]*domain.Order, error)             { return r.orders, nil }
func (r *memoryRepo) FindByUserID(context.Context, int64) ([]*domain.Order, error) { return nil, nil }
func (r *memoryRepo) UpdateStatus(context.Context, uint64, domain.Status) error    { return nil }
func (r *memoryRepo) FindLineByID(context.Context, uint64) (*domain.OrderLine, error) {
	return nil, nil
}
func (r *memoryRepo) FindAllLines(context.Context) ([]domain.OrderLine, error) { return nil, nil }

type recordingCompensator struct {
	mu       sync.Mutex
	messages []domain.CompensationMessage
	err      error
}

func (c *recordingCompensator) PublishRollback(_ context.Context, msg domain.CompensationMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return c.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []domain.NotificationMessage
	err      error
}

func (n *recordingNotifier) PublishOrderConfirmation(_ context.Context, msg domain.NotificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

type recordingObserver struct {
	mu     sync.Mutex
	events []domain.SagaEvent
}

func (o *recordingObserver) OnTransition(_ context.Context, event domain.SagaEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) states() []domain.SagaState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.SagaState, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.State)
	}
	return out
}

type fixture struct {
	inventory   *mockInventory
	repo        *memoryRepo
	compensator *recordingCompensator
	notifier    *recordingNotifier
	observer    *recordingObserver
	saga        *Orchestrator
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		inventory:   &mockInventory{},
		repo:        &memoryRepo{},
		compensator: &recordingCompensator{},
		notifier:    &recordingNotifier{},
		observer:    &recordingObserver{},
	}
	opts = append([]Option{WithObserver(f.observer)}, opts...)
	f.saga = NewOrchestrator(f.inventory, f.repo, f.compensator, f.notifier, opts...)
	return f
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func sampleRequest() *domain.OrderRequest {
	return &domain.OrderRequest{
		UserID:    int64Ptr(7),
		UserEmail: "buyer@example.com",
		Status:    "PENDING",
		Items: []domain.LineItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
	}
}

func snapshots(stock2 *int) map[int64]domain.ProductSnapshot {
	return map[int64]domain.ProductSnapshot{
		1: {ID: 1, Name: "Keyboard", Price: decimal.NewFromInt(10), Stock: intPtr(5)},
		2: {ID: 2, Name: "Mouse", Price: decimal.NewFromInt(20), Stock: stock2},
	}
}

func expectedBatch() []domain.StockReservation {
	return []domain.StockReservation{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}
}

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture()
	f.inventory.On("FetchDetails", mock.Anything, []int64{1, 2}).Return(snapshots(intPtr(3)), nil).Once()
	f.inventory.On("ReduceStock", mock.Anything, expectedBatch()).Return(nil).Once()

	order, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.NotZero(t, order.ID)
	assert.Equal(t, int64(7), order.UserID)
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.True(t, decimal.NewFromInt(40).Equal(order.Total), "total was %s", order.Total)
	require.Len(t, order.Lines, 2)
	assert.Equal(t, int64(1), order.Lines[0].ProductID)
	assert.Equal(t, 2, order.Lines[0].Quantity)

	require.Len(t, f.notifier.messages, 1)
	msg := f.notifier.messages[0]
	assert.Equal(t, int64(7), msg.UserID)
	assert.Equal(t, "buyer@example.com", msg.UserEmail)
	assert.True(t, order.Total.Equal(msg.Total))
	require.Len(t, msg.Items, 2)
	assert.Equal(t, int64(1), msg.Items[0].ProductID)
	assert.Equal(t, 2, msg.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(10).Equal(msg.Items[0].ProductPrice))
	assert.Equal(t, "Mouse", msg.Items[1].ProductName)
	assert.Equal(t, 1, msg.Items[1].Quantity)
	assert.True(t, decimal.NewFromInt(20).Equal(msg.Items[1].ProductPrice))

	assert.Empty(t, f.compensator.messages)
	assert.Equal(t, []domain.SagaState{
		domain.SagaValidating,
		domain.SagaFetchingDetails,
		domain.SagaPricingAndStockCheck,
		domain.SagaReservingStock,
		domain.SagaPersisting,
		domain.SagaNotifyingSuccess,
		domain.SagaCompleted,
	}, f.observer.states())
	f.inventory.AssertExpectations(t)
}

func TestCreateOrder_ValidationFailsBeforeAnyInventoryCall(t *testing.T) {
	cases := map[string]func(r *domain.OrderRequest){
		"unknown status":   func(r *domain.OrderRequest) { r.Status = "SHIPPED" },
		"lowercase status": func(r *domain.OrderRequest) { r.Status = "pending" },
		"missing user":     func(r *domain.OrderRequest) { r.UserID = nil },
		"no items":         func(r *domain.OrderRequest) { r.Items = nil },
		"non positive qty": func(r *domain.OrderRequest) { r.Items[1].Quantity = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			req := sampleRequest()
			mutate(req)

			order, err := f.saga.CreateOrder(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, order)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))

			f.inventory.AssertNotCalled(t, "FetchDetails", mock.Anything, mock.Anything)
			f.inventory.AssertNotCalled(t, "ReduceStock", mock.Anything, mock.Anything)
			assert.Empty(t, f.compensator.messages)
			assert.Empty(t, f.repo.orders)
			assert.Equal(t, []domain.SagaState{domain.SagaValidating, domain.SagaFailed}, f.observer.states())
		})
	}
}

func TestCreateOrder_MissingProductFailsWithoutCompensation(t *testing.T) {
	f := newFixture()
	partial := snapshots(intPtr(3))
	delete(partial, 2)
	f.inventory.On("FetchDetails", mock.Anything, []int64{1, 2}).Return(partial, nil).Once()

	_, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, domain.KindProductNotFound, domain.KindOf(err))
	assert.Contains(t, err.Error(), "2")

	f.inventory.AssertNotCalled(t, "ReduceStock", mock.Anything, mock.Anything)
	assert.Empty(t, f.compensator.messages)
	assert.Empty(t, f.notifier.messages)
}

func TestCreateOrder_LookupTransportErrorIsRetryable(t *testing.T) {
	f := newFixture()
	f.inventory.On("FetchDetails", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()

	_, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, domain.KindReservationFailed, domain.KindOf(err))
	f.inventory.AssertNotCalled(t, "ReduceStock", mock.Anything, mock.Anything)
	assert.Empty(t, f.compensator.messages)
}

func TestCreateOrder_InsufficientStockScenario(t *testing.T) {
	f := newFixture()
	f.inventory.On("FetchDetails", mock.Anything, []int64{1, 2}).Return(snapshots(intPtr(0)), nil).Once()

	_, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, domain.KindStock, domain.KindOf(err))
	assert.Contains(t, err.Error(), "product ID 2")

	f.inventory.AssertNotCalled(t, "ReduceStock", mock.Anything, mock.Anything)
	assert.Empty(t, f.compensator.messages)
	assert.Empty(t, f.repo.orders)
}

func TestCreateOrder_RepeatedLinesNearIntMaxNeverReserve(t *testing.T) {
	f := newFixture()
	f.inventory.On("FetchDetails", mock.Anything, []int64{1}).Return(snapshots(intPtr(3)), nil).Once()

	req := sampleRequest()
	req.Items = []domain.LineItemRequest{{ProductID: 1, Quantity: 5}, {ProductID: 1, Quantity: math.MaxInt}}

	order, err := f.saga.CreateOrder(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, domain.KindStock, domain.KindOf(err))
	assert.Contains(t, err.Error(), "Available: 5")

	f.inventory.AssertNotCalled(t, "ReduceStock", mock.Anything, mock.Anything)
	assert.Empty(t, f.compensator.messages)
	assert.Empty(t, f.repo.orders)
	assert.Empty(t, f.notifier.messages)
}

func TestCreateOrder_UnknownStockIsStockError(t *testing.T) {
	f := newFixture()
	f.inventory.On("FetchDetails", mock.Anything, []int64{1, 2}).Return(snapshots(nil), nil).Once()

	_, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, domain.KindStock, domain.KindOf(err))
	assert.Contains(t, err.Error(), "not available")
	f.inventory.AssertNotCalled(t, "ReduceStock", mock.Anything, mock.Anything)
}

func TestCreateOrder_ReservationFailureDoesNotCompensate(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantKind domain.Kind
	}{
		{"product missing at reservation", domain.NewError(domain.KindProductNotFound, "Product not found: 2"), domain.KindProductNotFound},
		{"inventory unavailable", errors.New("503 Service Unavailable"), domain.KindReservationFailed},
		{"timeout", context.DeadlineExceeded, domain.KindReservationFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.inventory.On("FetchDetails", mock.Anything, mock.Anything).Return(snapshots(intPtr(3)), nil).Once()
			f.inventory.On("ReduceStock", mock.Anything, expectedBatch()).Return(tc.err).Once()

			_, err := f.saga.CreateOrder(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.Equal(t, tc.wantKind, domain.KindOf(err))
			assert.Empty(t, f.compensator.messages)
			assert.Empty(t, f.repo.ctxErrs, "persistence must not be attempted")
			assert.Empty(t, f.notifier.messages)
			assert.NotContains(t, f.observer.states(), domain.SagaCompensating)
		})
	}
}

func TestCreateOrder_PersistenceFailureCompensatesEveryLine(t *testing.T) {
	f := newFixture()
	f.repo.err = errors.New("deadlock detected")
	f.inventory.On("FetchDetails", mock.Anything, mock.Anything).Return(snapshots(intPtr(3)), nil).Once()
	f.inventory.On("ReduceStock", mock.Anything, expectedBatch()).Return(nil).Once()

	published := testutil.ToFloat64(metrics.Compensations.WithLabelValues("published"))

	order, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, domain.KindPersistenceFailed, domain.KindOf(err))

	assert.Equal(t, []domain.CompensationMessage{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	}, f.compensator.messages)
	assert.Empty(t, f.notifier.messages)
	assert.Equal(t, published+2, testutil.ToFloat64(metrics.Compensations.WithLabelValues("published")))

	states := f.observer.states()
	require.GreaterOrEqual(t, len(states), 3)
	assert.Equal(t, []domain.SagaState{domain.SagaPersisting, domain.SagaCompensating, domain.SagaFailed}, states[len(states)-3:])
}

func TestCreateOrder_CompensationPublishFailureStillFails(t *testing.T) {
	f := newFixture()
	f.repo.err = errors.New("disk full")
	f.compensator.err = errors.New("channel closed")
	f.inventory.On("FetchDetails", mock.Anything, mock.Anything).Return(snapshots(intPtr(3)), nil).Once()
	f.inventory.On("ReduceStock", mock.Anything, mock.Anything).Return(nil).Once()

	failed := testutil.ToFloat64(metrics.PublishFailures.WithLabelValues(metrics.ChannelCompensation))

	_, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, domain.KindPersistenceFailed, domain.KindOf(err))
	assert.Len(t, f.compensator.messages, 2, "every line is attempted even when earlier publishes fail")
	assert.Equal(t, failed+2, testutil.ToFloat64(metrics.PublishFailures.WithLabelValues(metrics.ChannelCompensation)))
}

func TestCreateOrder_PersistTimeoutCompensates(t *testing.T) {
	f := newFixture(WithTimeouts(Timeouts{Inventory: time.Second, Persist: 20 * time.Millisecond, Publish: time.Second}))
	f.repo.block = true
	f.inventory.On("FetchDetails", mock.Anything, mock.Anything).Return(snapshots(intPtr(3)), nil).Once()
	f.inventory.On("ReduceStock", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, domain.KindPersistenceFailed, domain.KindOf(err))
	assert.Len(t, f.compensator.messages, 2)
}

func TestCreateOrder_NotificationFailureKeepsOrder(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("broker unreachable")
	f.inventory.On("FetchDetails", mock.Anything, mock.Anything).Return(snapshots(intPtr(3)), nil).Once()
	f.inventory.On("ReduceStock", mock.Anything, mock.Anything).Return(nil).Once()

	order, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Len(t, f.notifier.messages, 1)
	assert.Empty(t, f.compensator.messages)
	assert.Equal(t, domain.SagaCompleted, f.observer.states()[len(f.observer.states())-1])
}

func TestCreateOrder_NotificationFailureLogsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	defer logger.SetOutput(&buf)()

	f := newFixture()
	f.notifier.err = errors.New("broker unreachable")
	f.inventory.On("FetchDetails", mock.Anything, mock.Anything).Return(snapshots(intPtr(3)), nil).Once()
	f.inventory.On("ReduceStock", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.NoError(t, err)

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry), string(line))
		if entry["message"] != "failed to publish order confirmation" {
			continue
		}
		found = true
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "broker unreachable", entry["error"])
	}
	assert.True(t, found, "log output: %s", buf.String())
}

func TestCreateOrder_CallerCancellationAfterReservationIsIgnored(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.inventory.On("FetchDetails", mock.Anything, mock.Anything).Return(snapshots(intPtr(3)), nil).Once()
	f.inventory.On("ReduceStock", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil).Once()

	order, err := f.saga.CreateOrder(ctx, sampleRequest())
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Len(t, f.repo.ctxErrs, 1)
	assert.NoError(t, f.repo.ctxErrs[0], "persistence must run with a detached context")
	assert.Len(t, f.notifier.messages, 1)
}

func TestCreateOrder_CancelledBeforeReservationSkipsReduce(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.inventory.On("FetchDetails", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(snapshots(intPtr(3)), nil).Once()

	_, err := f.saga.CreateOrder(ctx, sampleRequest())
	require.Error(t, err)
	assert.Equal(t, domain.KindReservationFailed, domain.KindOf(err))
	f.inventory.AssertNotCalled(t, "ReduceStock", mock.Anything, mock.Anything)
	assert.Empty(t, f.compensator.messages)
}

func TestCreateOrder_IdenticalRunsProduceIndependentOrders(t *testing.T) {
	f := newFixture()
	f.inventory.On("FetchDetails", mock.Anything, mock.Anything).Return(snapshots(intPtr(3)), nil).Twice()
	f.inventory.On("ReduceStock", mock.Anything, expectedBatch()).Return(nil).Twice()

	first, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.NoError(t, err)
	second, err := f.saga.CreateOrder(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, f.repo.orders, 2)
	assert.Len(t, f.notifier.messages, 2)
	f.inventory.AssertNumberOfCalls(t, "ReduceStock", 2)
}

func TestCreateOrder_RuleRejection(t *testing.T) {
	rules, err := CompileRules([]string{"size(items) <= 1"})
	require.NoError(t, err)
	f := newFixture(WithRules(rules))

	_, err = f.saga.CreateOrder(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	f.inventory.AssertNotCalled(t, "FetchDetails", mock.Anything, mock.Anything)
}
