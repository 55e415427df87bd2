package reconcile

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/FanPass/app/models"
	"github.com/ManuelReschke/FanPass/internal/pkg/apperror"
	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscriber"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscription"
	"github.com/ManuelReschke/FanPass/internal/pkg/testutil"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

type fakeGateway struct {
	mu      sync.Mutex
	records map[string]*gateway.PaymentRecord
	err     error
	calls   int
}

func (f *fakeGateway) GetPaymentStatus(_ context.Context, id string, _ gateway.RetryPolicy) (*gateway.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, &apperror.GatewayError{Op: "get payment status", StatusCode: 404, Message: "payment not found at the gateway"}
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeGateway) set(id, status, email, amount, ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = map[string]*gateway.PaymentRecord{}
	}
	f.records[id] = &gateway.PaymentRecord{
		ID:                id,
		Status:            status,
		PayerEmail:        email,
		Amount:            decimal.RequireFromString(amount),
		PaymentMethod:     "pix",
		ExternalReference: ref,
	}
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, string) (func(), error) {
	return nil, errors.New("redis down")
}

type fixture struct {
	db     *gorm.DB
	gw     *fakeGateway
	store  *subscription.Store
	dir    *subscriber.Directory
	engine *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	gw := &fakeGateway{}
	store := subscription.NewStore(subscription.NewRepository(db))
	dir := subscriber.NewDirectory(db, nil, 0)
	opts = append([]Option{WithProfiles(dir), WithEventLog(NewEventLog(db))}, opts...)
	return &fixture{db: db, gw: gw, store: store, dir: dir, engine: New(store, gw, opts...)}
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Subscription{}).Count(&n).Error)
	return n
}

func TestReconcile_StatusGatedCreation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		status  string
		outcome Outcome
	}{
		{status: gateway.StatusPending, outcome: OutcomePending},
		{status: gateway.StatusInProcess, outcome: OutcomePending},
		{status: "authorized", outcome: OutcomePending},
		{status: gateway.StatusRejected, outcome: OutcomeRejected},
		{status: gateway.StatusCancelled, outcome: OutcomeRejected},
		{status: gateway.StatusRefunded, outcome: OutcomeRejected},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			f := newFixture(t)
			f.gw.set("PAY1", tt.status, "a@example.com", "99.00", "")

			res, err := f.engine.Reconcile(ctx, Request{PaymentID: "PAY1", Source: models.SubscriptionSourceVerify})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.False(t, res.Approved())
			assert.Empty(t, res.SubscriptionID)
			assert.Equal(t, int64(0), f.count(t))
		})
	}
}

func TestReconcile_ApprovedCreatesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.set("PAY1", gateway.StatusApproved, "A@Example.com", "99.00", "")

	res, err := f.engine.Reconcile(ctx, Request{PaymentID: "PAY1", Source: models.SubscriptionSourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	require.NotEmpty(t, res.SubscriptionID)

	sub, err := f.store.GetSubscriptionByPaymentID(ctx, "PAY1")
	require.NoError(t, err)
	assert.Equal(t, subscription.PlanMonthly, sub.PlanID)
	assert.Equal(t, "a@example.com", sub.Email)
	assert.Equal(t, "a@example.com", sub.UserID)
	assert.Equal(t, models.SubscriptionSourceWebhook, sub.Source)
	assert.WithinDuration(t, sub.StartDate.Add(30*24*time.Hour), sub.EndDate, time.Second)

	profile, err := f.dir.Profile(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, profile.IsSubscriber)

	// second trigger never reaches the gateway
	callsBefore := f.gw.calls
	again, err := f.engine.Reconcile(ctx, Request{PaymentID: "PAY1", Source: models.SubscriptionSourceVerify})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, again.Outcome)
	assert.Equal(t, res.SubscriptionID, again.SubscriptionID)
	assert.Equal(t, callsBefore, f.gw.calls)
	assert.Equal(t, int64(1), f.count(t))
}

func TestReconcile_ConcurrentTriggers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.set("PAY1", gateway.StatusApproved, "a@example.com", "99.00", "")

	var wg sync.WaitGroup
	ids := make([]string, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Reconcile(ctx, Request{PaymentID: "PAY1"})
			if assert.NoError(t, err) {
				ids[i] = res.SubscriptionID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int64(1), f.count(t))
}

func TestReconcile_TrustsGatewayRecordForPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.set("PAY-Y", gateway.StatusApproved, "y@example.com", "899.00", "")
	f.gw.set("PAY-R", gateway.StatusApproved, "r@example.com", "249.00", "plan:yearly")

	_, err := f.engine.Reconcile(ctx, Request{PaymentID: "PAY-Y"})
	require.NoError(t, err)
	res, err := f.engine.Reconcile(ctx, Request{PaymentID: "PAY-R"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnderpaid, res.Outcome)

	y, err := f.store.GetSubscriptionByPaymentID(ctx, "PAY-Y")
	require.NoError(t, err)
	assert.Equal(t, subscription.PlanYearly, y.PlanID)
	assert.True(t, y.Amount.Equal(decimal.RequireFromString("899")))

	r, err := f.store.GetSubscriptionByPaymentID(ctx, "PAY-R")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestReconcile_UnderpaidCreatesNothing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		amount string
		ref    string
	}{
		{name: "plan reference above amount", amount: "1.00", ref: "plan:yearly"},
		{name: "default plan above amount", amount: "0.01", ref: ""},
		{name: "unknown reference", amount: "50.00", ref: "order-9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gw.set("PAY1", gateway.StatusApproved, "cheap@example.com", tt.amount, tt.ref)

			res, err := f.engine.Reconcile(ctx, Request{PaymentID: "PAY1"})
			require.NoError(t, err)
			assert.Equal(t, OutcomeUnderpaid, res.Outcome)
			assert.False(t, res.Approved())
			assert.Empty(t, res.SubscriptionID)
			assert.Contains(t, res.Message, "no subscription created")
			assert.Equal(t, int64(0), f.count(t))

			active, err := f.store.HasActiveSubscription(ctx, subscription.ByEmail("cheap@example.com"))
			require.NoError(t, err)
			assert.False(t, active)
		})
	}
}

func TestReconcile_GatewayErrorIsFinal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.err = &apperror.GatewayError{Op: "get payment status", StatusCode: 503, Retryable: true, Attempts: 3}

	_, err := f.engine.Reconcile(ctx, Request{PaymentID: "PAY1"})
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))
	assert.Equal(t, 1, f.gw.calls)
	assert.Equal(t, int64(0), f.count(t))

	_, err = f.engine.Reconcile(ctx, Request{PaymentID: " "})
	var ve *apperror.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestReconcile_ApprovedWithoutEmail(t *testing.T) {
	f := newFixture(t)
	f.gw.set("PAY1", gateway.StatusApproved, "", "99.00", "")

	_, err := f.engine.Reconcile(context.Background(), Request{PaymentID: "PAY1"})
	var ge *apperror.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.False(t, ge.Retryable)
	assert.Equal(t, int64(0), f.count(t))
}

func TestReconcile_LockFailureStillCreates(t *testing.T) {
	f := newFixture(t, WithLocker(failingLocker{}))
	f.gw.set("PAY1", gateway.StatusApproved, "a@example.com", "99.00", "")

	res, err := f.engine.Reconcile(context.Background(), Request{PaymentID: "PAY1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestManualFix_SameInstantForTwoEmails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	frozen := time.Now().UTC()
	f.store.WithClock(func() time.Time { return frozen })

	a, err := f.engine.ManualFix(ctx, "a@example.com")
	require.NoError(t, err)
	b, err := f.engine.ManualFix(ctx, "b@example.com")
	require.NoError(t, err)

	assert.True(t, b.Created)
	assert.NotEqual(t, a.Subscription.ID, b.Subscription.ID)
	assert.Equal(t, "b@example.com", b.Subscription.Email)

	active, err := f.store.HasActiveSubscription(ctx, subscription.ByEmail("b@example.com"))
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, int64(2), f.count(t))
}

func TestManualFixAndInspect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	fix, err := f.engine.ManualFix(ctx, "b@example.com")
	require.NoError(t, err)
	assert.True(t, fix.Created)
	assert.Regexp(t, `^manual-fix-\d+-[0-9a-f]{8}$`, fix.Subscription.PaymentID)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), fix.Subscription.EndDate, time.Minute)
	assert.Equal(t, 0, f.gw.calls)

	active, err := f.store.HasActiveSubscription(ctx, subscription.ByEmail("b@example.com"))
	require.NoError(t, err)
	assert.True(t, active)

	insp, err := f.engine.Inspect(ctx, "B@example.com")
	require.NoError(t, err)
	assert.Len(t, insp.Subscriptions, 1)
	assert.Len(t, insp.Users, 1)
	assert.True(t, insp.Users[0].IsSubscriber)
	assert.Empty(t, insp.Events)

	_, err = f.engine.Inspect(ctx, "")
	assert.Error(t, err)
}

func TestExpireStale_RefreshesProfiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.set("PAY1", gateway.StatusApproved, "a@example.com", "99.00", "")
	_, err := f.engine.Reconcile(ctx, Request{PaymentID: "PAY1"})
	require.NoError(t, err)

	// move the window into the past behind the store's back
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.db.Model(&models.Subscription{}).Where("payment_id = ?", "PAY1").Update("end_date", past).Error)

	n, err := f.engine.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	profile, err := f.dir.Profile(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, profile.IsSubscriber)
}

func TestHandleDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.set("PAY1", gateway.StatusApproved, "a@example.com", "99.00", "")

	body := []byte(`{"id": 77, "type": "payment", "action": "payment.updated", "data": {"id": "PAY1"}}`)
	n, err := gateway.ParseNotification(body, nil)
	require.NoError(t, err)

	res, err := f.engine.HandleDelivery(ctx, Delivery{Notification: n, Payload: body})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)

	res, err = f.engine.HandleDelivery(ctx, Delivery{Notification: n, Payload: body})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)

	events, err := NewEventLog(f.db).Recent(ctx, "PAY1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Deliveries)
	assert.NotNil(t, events[0].ProcessedAt)
	assert.Empty(t, events[0].ProcessingError)
	assert.Equal(t, int64(1), f.count(t))

	other, err := gateway.ParseNotification([]byte(`{"type": "merchant_order", "data": {"id": "9"}}`), nil)
	require.NoError(t, err)
	res, err = f.engine.HandleDelivery(ctx, Delivery{Notification: other, Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestHandleDelivery_RecordsProcessingError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.err = &apperror.GatewayError{Op: "get payment status", Retryable: true, Message: "timeout"}

	n := &gateway.Notification{Type: "payment", PaymentID: "PAY9"}
	_, err := f.engine.HandleDelivery(ctx, Delivery{Notification: n, Payload: []byte("not json")})
	require.Error(t, err)

	events, err := NewEventLog(f.db).Recent(ctx, "PAY9", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "payment:PAY9", events[0].ProviderEventID)
	assert.Contains(t, events[0].ProcessingError, "timeout")
}

type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *memoryCounter) Add(_ context.Context, field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[field]++
	return nil
}

func (c *memoryCounter) Snapshot(context.Context) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out, nil
}

func TestStats_CountsOutcomes(t *testing.T) {
	ctx := context.Background()
	counter := &memoryCounter{}
	f := newFixture(t, WithCounter(counter))
	f.gw.set("PAY1", gateway.StatusApproved, "a@example.com", "99.00", "")
	f.gw.set("PAY2", gateway.StatusPending, "b@example.com", "99.00", "")

	for _, id := range []string{"PAY1", "PAY1", "PAY2", "MISSING"} {
		_, _ = f.engine.Reconcile(ctx, Request{PaymentID: id, Source: models.SubscriptionSourceWebhook})
	}
	_, err := f.engine.HandleDelivery(ctx, Delivery{Notification: &gateway.Notification{Type: "merchant_order", PaymentID: "1"}})
	require.NoError(t, err)

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"created":           1,
		"already_processed": 1,
		"pending":           1,
		"error":             1,
		"ignored":           1,
	}, stats.Outcomes)
	assert.Equal(t, int64(1), stats.Subscriptions.Total)
	assert.Equal(t, int64(1), stats.Subscriptions.Active)
}

func TestInspect_IncludesWebhookDeliveries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.set("PAY1", gateway.StatusApproved, "a@example.com", "99.00", "")

	d := Delivery{
		Notification: &gateway.Notification{EventID: "evt-1", Type: "payment", Action: "payment.updated", PaymentID: "PAY1"},
		Payload:      []byte(`{"id":"evt-1","type":"payment","data":{"id":"PAY1"}}`),
	}
	_, err := f.engine.HandleDelivery(ctx, d)
	require.NoError(t, err)

	insp, err := f.engine.Inspect(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, insp.Events, 1)
	assert.Equal(t, "PAY1", insp.Events[0].PaymentID)
	assert.NotNil(t, insp.Events[0].ProcessedAt)
}
