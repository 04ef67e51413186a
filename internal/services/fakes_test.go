package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"estatehub/internal/gateway"
	"estatehub/internal/models"
	"estatehub/internal/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// memoryDB is an in-memory stand-in for Postgres. Transactions are
// serialized under one lock and rolled back by restoring a snapshot.
type memoryDB struct {
	mu            sync.Mutex
	payments      map[uuid.UUID]models.Payment
	subscriptions map[uuid.UUID]models.Subscription
	listings      map[int64]models.Listing
	customers     map[int64]models.BillingCustomer
	users         map[int64]models.UserProfile
	plans         map[string]models.Plan
	packages      map[int64]models.FeaturedPackage
	events        map[string]models.WebhookEvent
	failures      map[string]error
	now           func() time.Time
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		payments:      map[uuid.UUID]models.Payment{},
		subscriptions: map[uuid.UUID]models.Subscription{},
		listings:      map[int64]models.Listing{},
		customers:     map[int64]models.BillingCustomer{},
		users:         map[int64]models.UserProfile{},
		plans:         map[string]models.Plan{},
		packages:      map[int64]models.FeaturedPackage{},
		events:        map[string]models.WebhookEvent{},
		failures:      map[string]error{},
		now:           time.Now,
	}
}

type memorySnapshot struct {
	payments      map[uuid.UUID]models.Payment
	subscriptions map[uuid.UUID]models.Subscription
	listings      map[int64]models.Listing
	customers     map[int64]models.BillingCustomer
	events        map[string]models.WebhookEvent
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (db *memoryDB) snapshot() memorySnapshot {
	return memorySnapshot{
		payments:      copyMap(db.payments),
		subscriptions: copyMap(db.subscriptions),
		listings:      copyMap(db.listings),
		customers:     copyMap(db.customers),
		events:        copyMap(db.events),
	}
}

func (db *memoryDB) restore(s memorySnapshot) {
	db.payments = s.payments
	db.subscriptions = s.subscriptions
	db.listings = s.listings
	db.customers = s.customers
	db.events = s.events
}

// failOn makes the named operation return err until cleared.
func (db *memoryDB) failOn(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failures[op] = err
}

func (db *memoryDB) payment(id uuid.UUID) models.Payment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.payments[id]
}

func (db *memoryDB) paymentCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.payments)
}

func (db *memoryDB) listing(id int64) models.Listing {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.listings[id]
}

func (db *memoryDB) subscription(id uuid.UUID) models.Subscription {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.subscriptions[id]
}

func (db *memoryDB) subscriptionsOf(ownerID int64) []models.Subscription {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Subscription
	for _, s := range db.subscriptions {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out
}

func (db *memoryDB) put(fn func(db *memoryDB)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn(db)
}

type memoryStore struct {
	db   *memoryDB
	inTx bool
}

func newMemoryStore(db *memoryDB) *memoryStore {
	return &memoryStore{db: db}
}

func (s *memoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.db.mu.Lock()
	return s.db.mu.Unlock
}

func (s *memoryStore) fail(op string) error {
	return s.db.failures[op]
}

func (s *memoryStore) Payments() repositories.PaymentRepository           { return memoryPayments{s} }
func (s *memoryStore) Subscriptions() repositories.SubscriptionRepository { return memorySubscriptions{s} }
func (s *memoryStore) Listings() repositories.ListingRepository           { return memoryListings{s} }
func (s *memoryStore) Customers() repositories.CustomerRepository         { return memoryCustomers{s} }
func (s *memoryStore) Users() repositories.UserRepository                 { return memoryUsers{s} }
func (s *memoryStore) Plans() repositories.PlanRepository                 { return memoryPlans{s} }
func (s *memoryStore) WebhookEvents() repositories.WebhookEventRepository { return memoryEvents{s} }

func (s *memoryStore) WithTx(ctx context.Context, fn func(tx repositories.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snap := s.db.snapshot()
	if err := fn(&memoryStore{db: s.db, inTx: true}); err != nil {
		s.db.restore(snap)
		return err
	}
	return nil
}

type memoryPayments struct{ s *memoryStore }

func (r memoryPayments) Create(ctx context.Context, p *models.Payment) error {
	defer r.s.lock()()
	if err := r.s.fail("payments.Create"); err != nil {
		return err
	}
	row := *p
	row.CreatedAt, row.UpdatedAt = r.s.db.now(), r.s.db.now()
	r.s.db.payments[p.ID] = row
	return nil
}

func (r memoryPayments) CreateForInvoice(ctx context.Context, p *models.Payment) (bool, error) {
	defer r.s.lock()()
	if err := r.s.fail("payments.CreateForInvoice"); err != nil {
		return false, err
	}
	for _, existing := range r.s.db.payments {
		if existing.InvoiceRef != nil && *existing.InvoiceRef == *p.InvoiceRef {
			return false, nil
		}
	}
	r.s.db.payments[p.ID] = *p
	return true, nil
}

func (r memoryPayments) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	defer r.s.lock()()
	p, ok := r.s.db.payments[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

func (r memoryPayments) GetByIntentRef(ctx context.Context, ref string) (*models.Payment, error) {
	defer r.s.lock()()
	for _, p := range r.s.db.payments {
		if p.IntentRef != nil && *p.IntentRef == ref {
			return &p, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r memoryPayments) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*models.Payment, error) {
	defer r.s.lock()()
	var out []*models.Payment
	for _, p := range r.s.db.payments {
		if p.OwnerID == ownerID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryPayments) SetIntentRef(ctx context.Context, id uuid.UUID, ref string) error {
	defer r.s.lock()()
	if err := r.s.fail("payments.SetIntentRef"); err != nil {
		return err
	}
	p, ok := r.s.db.payments[id]
	if !ok || p.IntentRef != nil {
		return repositories.ErrIntentRefAlreadySet
	}
	p.IntentRef = &ref
	r.s.db.payments[id] = p
	return nil
}

func (r memoryPayments) transition(id uuid.UUID, from, to models.PaymentStatus, mutate func(*models.Payment)) (bool, error) {
	defer r.s.lock()()
	p, ok := r.s.db.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = r.s.db.now()
	if mutate != nil {
		mutate(&p)
	}
	r.s.db.payments[id] = p
	return true, nil
}

func (r memoryPayments) MarkCompleted(ctx context.Context, id uuid.UUID, txnRef *string) (bool, error) {
	return r.transition(id, models.PaymentStatusPending, models.PaymentStatusCompleted, func(p *models.Payment) {
		if txnRef != nil {
			p.TransactionRef = txnRef
		}
	})
}

func (r memoryPayments) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(id, models.PaymentStatusPending, models.PaymentStatusFailed, nil)
}

func (r memoryPayments) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(id, models.PaymentStatusCompleted, models.PaymentStatusRefunded, nil)
}

func (r memoryPayments) ReleaseReservation(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if p, ok := r.s.db.payments[id]; ok && p.Status == models.PaymentStatusPending && p.IntentRef == nil {
		delete(r.s.db.payments, id)
	}
	return nil
}

type memorySubscriptions struct{ s *memoryStore }

func (r memorySubscriptions) activeConflict(sub models.Subscription) bool {
	for _, other := range r.s.db.subscriptions {
		if other.ID != sub.ID && other.OwnerID == sub.OwnerID && other.Status == models.SubscriptionStatusActive {
			return true
		}
	}
	return false
}

func (r memorySubscriptions) Create(ctx context.Context, sub *models.Subscription) error {
	defer r.s.lock()()
	if err := r.s.fail("subscriptions.Create"); err != nil {
		return err
	}
	if sub.Status == models.SubscriptionStatusActive && r.activeConflict(*sub) {
		return repositories.ErrActiveSubscriptionExists
	}
	r.s.db.subscriptions[sub.ID] = *sub
	return nil
}

func (r memorySubscriptions) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	defer r.s.lock()()
	sub, ok := r.s.db.subscriptions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &sub, nil
}

func (r memorySubscriptions) GetByExternalRef(ctx context.Context, ref string) (*models.Subscription, error) {
	defer r.s.lock()()
	for _, sub := range r.s.db.subscriptions {
		if sub.ExternalSubscriptionRef == ref {
			return &sub, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r memorySubscriptions) GetLatestByOwner(ctx context.Context, ownerID int64) (*models.Subscription, error) {
	defer r.s.lock()()
	var latest *models.Subscription
	for _, sub := range r.s.db.subscriptions {
		if sub.OwnerID != ownerID {
			continue
		}
		if latest == nil || sub.StartsAt.After(latest.StartsAt) {
			sub := sub
			latest = &sub
		}
	}
	if latest == nil {
		return nil, repositories.ErrNotFound
	}
	return latest, nil
}

func (r memorySubscriptions) GetActiveByOwner(ctx context.Context, ownerID int64) (*models.Subscription, error) {
	defer r.s.lock()()
	for _, sub := range r.s.db.subscriptions {
		if sub.OwnerID == ownerID && sub.Status == models.SubscriptionStatusActive {
			return &sub, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r memorySubscriptions) ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	defer r.s.lock()()
	var out []*models.Subscription
	for _, sub := range r.s.db.subscriptions {
		if sub.IsLapsed(now) && len(out) < limit {
			sub := sub
			out = append(out, &sub)
		}
	}
	return out, nil
}

func (r memorySubscriptions) update(id uuid.UUID, fn func(sub *models.Subscription) bool) bool {
	sub, ok := r.s.db.subscriptions[id]
	if !ok || !fn(&sub) {
		return false
	}
	r.s.db.subscriptions[id] = sub
	return true
}

func (r memorySubscriptions) DisableAutoRenew(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if !r.update(id, func(sub *models.Subscription) bool { sub.AutoRenew = false; return true }) {
		return repositories.ErrNotFound
	}
	return nil
}

func (r memorySubscriptions) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	defer r.s.lock()()
	return r.update(id, func(sub *models.Subscription) bool {
		if !sub.IsLapsed(now) {
			return false
		}
		sub.Status = models.SubscriptionStatusExpired
		return true
	}), nil
}

func (r memorySubscriptions) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	defer r.s.lock()()
	return r.update(id, func(sub *models.Subscription) bool {
		if sub.Status == models.SubscriptionStatusCancelled {
			return false
		}
		sub.Status = models.SubscriptionStatusCancelled
		sub.AutoRenew = false
		return true
	}), nil
}

func (r memorySubscriptions) ExtendPeriod(ctx context.Context, id uuid.UUID, endsAt time.Time) error {
	defer r.s.lock()()
	r.update(id, func(sub *models.Subscription) bool {
		if endsAt.After(sub.EndsAt) {
			sub.EndsAt = endsAt
		}
		return true
	})
	return nil
}

func (r memorySubscriptions) ApplyGatewayState(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus, endsAt time.Time, autoRenew bool) error {
	defer r.s.lock()()
	sub, ok := r.s.db.subscriptions[id]
	if !ok {
		return nil
	}
	if status == models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusActive && r.activeConflict(sub) {
		return repositories.ErrActiveSubscriptionExists
	}
	if status != models.SubscriptionStatusActive || endsAt.After(sub.EndsAt) {
		sub.EndsAt = endsAt
	}
	sub.Status = status
	sub.AutoRenew = autoRenew
	r.s.db.subscriptions[id] = sub
	return nil
}

type memoryListings struct{ s *memoryStore }

func (r memoryListings) GetByID(ctx context.Context, id int64) (*models.Listing, error) {
	defer r.s.lock()()
	l, ok := r.s.db.listings[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &l, nil
}

func (r memoryListings) SetFeatured(ctx context.Context, id int64, until time.Time) error {
	defer r.s.lock()()
	if err := r.s.fail("listings.SetFeatured"); err != nil {
		return err
	}
	l, ok := r.s.db.listings[id]
	if !ok {
		return repositories.ErrNotFound
	}
	l.IsFeatured = true
	l.FeaturedUntil = &until
	r.s.db.listings[id] = l
	return nil
}

func (r memoryListings) ClearFeatured(ctx context.Context, id int64) error {
	defer r.s.lock()()
	l, ok := r.s.db.listings[id]
	if !ok {
		return repositories.ErrNotFound
	}
	l.IsFeatured = false
	l.FeaturedUntil = nil
	r.s.db.listings[id] = l
	return nil
}

func (r memoryListings) ClearExpiredFeatured(ctx context.Context, now time.Time) (int64, error) {
	defer r.s.lock()()
	var n int64
	for id, l := range r.s.db.listings {
		if l.IsFeatured && l.FeaturedUntil != nil && !l.FeaturedUntil.After(now) {
			l.IsFeatured = false
			r.s.db.listings[id] = l
			n++
		}
	}
	return n, nil
}

type memoryCustomers struct{ s *memoryStore }

func (r memoryCustomers) GetByUserID(ctx context.Context, userID int64) (*models.BillingCustomer, error) {
	defer r.s.lock()()
	c, ok := r.s.db.customers[userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

func (r memoryCustomers) Save(ctx context.Context, c *models.BillingCustomer) error {
	defer r.s.lock()()
	if _, ok := r.s.db.customers[c.UserID]; !ok {
		r.s.db.customers[c.UserID] = *c
	}
	return nil
}

type memoryUsers struct{ s *memoryStore }

func (r memoryUsers) GetProfile(ctx context.Context, id int64) (*models.UserProfile, error) {
	defer r.s.lock()()
	u, ok := r.s.db.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &u, nil
}

type memoryPlans struct{ s *memoryStore }

func (r memoryPlans) GetPlanBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	defer r.s.lock()()
	p, ok := r.s.db.plans[slug]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

func (r memoryPlans) ListActivePlans(ctx context.Context) ([]*models.Plan, error) {
	defer r.s.lock()()
	var out []*models.Plan
	for _, p := range r.s.db.plans {
		if p.Active {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (r memoryPlans) GetFeaturedPackage(ctx context.Context, id int64) (*models.FeaturedPackage, error) {
	defer r.s.lock()()
	p, ok := r.s.db.packages[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

func (r memoryPlans) ListActiveFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error) {
	defer r.s.lock()()
	var out []*models.FeaturedPackage
	for _, p := range r.s.db.packages {
		if p.Active {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryEvents struct{ s *memoryStore }

func (r memoryEvents) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	defer r.s.lock()()
	if err := r.s.fail("webhookEvents.IsProcessed"); err != nil {
		return false, err
	}
	e, ok := r.s.db.events[eventID]
	return ok && e.ProcessedAt != nil, nil
}

func (r memoryEvents) MarkProcessed(ctx context.Context, event *models.WebhookEvent) error {
	defer r.s.lock()()
	if err := r.s.fail("webhookEvents.MarkProcessed"); err != nil {
		return err
	}
	if _, ok := r.s.db.events[event.EventID]; ok {
		return nil
	}
	now := r.s.db.now()
	row := *event
	row.ProcessedAt = &now
	r.s.db.events[event.EventID] = row
	return nil
}

// MockGatewayClient is a mock implementation of gateway.Client
type MockGatewayClient struct {
	mock.Mock
}

func (m *MockGatewayClient) CreateOrGetCustomer(ctx context.Context, ownerID int64, email, name string) (string, error) {
	args := m.Called(ctx, ownerID, email, name)
	return args.String(0), args.Error(1)
}

func (m *MockGatewayClient) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Intent), args.Error(1)
}

func (m *MockGatewayClient) GetIntent(ctx context.Context, intentRef string) (*gateway.IntentState, error) {
	args := m.Called(ctx, intentRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.IntentState), args.Error(1)
}

func (m *MockGatewayClient) CancelIntent(ctx context.Context, intentRef string) error {
	args := m.Called(ctx, intentRef)
	return args.Error(0)
}

func (m *MockGatewayClient) CreateSubscription(ctx context.Context, req gateway.SubscriptionRequest) (*gateway.SubscriptionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SubscriptionResult), args.Error(1)
}

func (m *MockGatewayClient) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	args := m.Called(ctx, subscriptionRef, atPeriodEnd)
	return args.Error(0)
}

func (m *MockGatewayClient) Refund(ctx context.Context, transactionRef string) error {
	args := m.Called(ctx, transactionRef)
	return args.Error(0)
}

// stubVerifier skips signature checks and decodes nothing.
type stubVerifier func(payload []byte, signature string) (*gateway.Event, error)

func (f stubVerifier) Verify(payload []byte, signature string) (*gateway.Event, error) {
	return f(payload, signature)
}

type MockEventArchive struct {
	mock.Mock
}

func (m *MockEventArchive) Archive(ctx context.Context, event *gateway.Event, payload []byte) error {
	args := m.Called(ctx, event, payload)
	return args.Error(0)
}

func (m *MockEventArchive) EnsureBucket(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// fixedClock returns a Clock that can be moved by the test.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
