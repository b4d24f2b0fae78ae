package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kursadbilgin/order-notifier/internal/domain"
)

type fakeSource struct {
	marketplace domain.Marketplace
	fetchFn     func(ctx context.Context, query domain.OrderQuery) ([]domain.NormalizedOrder, error)
}

func (f *fakeSource) Marketplace() domain.Marketplace { return f.marketplace }

func (f *fakeSource) DefaultQuery() domain.OrderQuery {
	return domain.OrderQuery{Status: "PAYED", Window: 24 * time.Hour}
}

func (f *fakeSource) FetchRecentOrders(ctx context.Context, query domain.OrderQuery) ([]domain.NormalizedOrder, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, query)
	}
	return nil, nil
}

func staticSource(marketplace domain.Marketplace, orders ...domain.NormalizedOrder) *fakeSource {
	return &fakeSource{
		marketplace: marketplace,
		fetchFn: func(ctx context.Context, query domain.OrderQuery) ([]domain.NormalizedOrder, error) {
			return orders, nil
		},
	}
}

type sentCall struct {
	Phone  string
	Fields domain.TemplateFields
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []sentCall
	sendFn func(ctx context.Context, phone string, fields domain.TemplateFields) domain.NotificationResult
}

func (f *fakeDispatcher) Send(ctx context.Context, phone string, fields domain.TemplateFields) domain.NotificationResult {
	f.mu.Lock()
	f.calls = append(f.calls, sentCall{Phone: phone, Fields: fields})
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, phone, fields)
	}
	return domain.NotificationResult{Succeeded: true, StatusCode: 200, GatewayCode: "0"}
}

func (f *fakeDispatcher) phones() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Phone)
	}
	return out
}

// memoryStore keeps the persisted record as the JSON document the file store
// would write.
type memoryStore struct {
	mu      sync.Mutex
	doc     []byte
	saves   int
	loadErr error
	saveFn  func(ctx context.Context, record *domain.SentRecord) error
}

func newMemoryStore(doc string) *memoryStore {
	s := &memoryStore{}
	if doc != "" {
		s.doc = []byte(doc)
	}
	return s
}

func (s *memoryStore) Load(ctx context.Context) (*domain.SentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	record := domain.NewSentRecord()
	if s.doc == nil {
		return record, nil
	}
	if err := json.Unmarshal(s.doc, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *memoryStore) Save(ctx context.Context, record *domain.SentRecord) error {
	if s.saveFn != nil {
		if err := s.saveFn(ctx, record); err != nil {
			return err
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = data
	s.saves++
	return nil
}

func (s *memoryStore) document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.doc)
}

func (s *memoryStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.DispatchAttempt
	createFn func(ctx context.Context, a *domain.DispatchAttempt) error
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DispatchAttempt) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) ListByRunID(ctx context.Context, runID string) ([]domain.DispatchAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DispatchAttempt, 0, len(f.attempts))
	for _, a := range f.attempts {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}
