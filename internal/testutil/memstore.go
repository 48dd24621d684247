// Package testutil holds in-memory fakes shared by service tests.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"reconciler/internal/domain"
)

var errRawSQL = errors.New("memstore: raw SQL is not supported")

// Store is an in-memory domain.Database. Transactions are serialized; RunInTx
// snapshots every table and restores the snapshot when fn fails, so tests
// observe rollback semantics.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	payments    map[string]domain.Payment
	events      map[string]domain.ProcessedEvent
	tasks       map[string]domain.RetryTask
	audit       []domain.AuditLogEntry
	deadLetters []domain.DeadLetter

	// Failure injection. Each non-nil error is returned by the matching call.
	FailPaymentUpdate error
	FailPaymentLookup error
	FailEventExists   error
	FailTaskCreate    error
	FailAuditCreate   error
	FailDeadLetter    error
}

func NewStore() *Store {
	return &Store{
		payments: make(map[string]domain.Payment),
		events:   make(map[string]domain.ProcessedEvent),
		tasks:    make(map[string]domain.RetryTask),
	}
}

func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errRawSQL
}

func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errRawSQL
}

func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

type snapshot struct {
	payments    map[string]domain.Payment
	events      map[string]domain.ProcessedEvent
	tasks       map[string]domain.RetryTask
	audit       []domain.AuditLogEntry
	deadLetters []domain.DeadLetter
}

func (s *Store) RunInTx(ctx context.Context, fn func(q domain.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := snapshot{
		payments:    cloneMap(s.payments),
		events:      cloneMap(s.events),
		tasks:       cloneMap(s.tasks),
		audit:       append([]domain.AuditLogEntry(nil), s.audit...),
		deadLetters: append([]domain.DeadLetter(nil), s.deadLetters...),
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.payments, s.events, s.tasks, s.audit, s.deadLetters = snap.payments, snap.events, snap.tasks, snap.audit, snap.deadLetters
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Seeding and inspection helpers.

func (s *Store) PutPayment(p domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
}

func (s *Store) PaymentByOrder(orderID string) (domain.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.latestByOrder(orderID)
	if !ok {
		return domain.Payment{}, false
	}
	return p, true
}

func (s *Store) HasEvent(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok
}

func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *Store) PutTask(t domain.RetryTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

func (s *Store) Tasks() []domain.RetryTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RetryTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) AuditLog() []domain.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditLogEntry(nil), s.audit...)
}

func (s *Store) DeadLetters() []domain.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeadLetter(nil), s.deadLetters...)
}

func (s *Store) latestByOrder(orderID string) (domain.Payment, bool) {
	var (
		found  domain.Payment
		exists bool
	)
	for _, p := range s.payments {
		if p.OrderID != orderID {
			continue
		}
		if !exists || p.CreatedAt.After(found.CreatedAt) {
			found, exists = p, true
		}
	}
	return found, exists
}

// Payments implements payments_repo.PaymentRepository.
func (s *Store) Payments() *PaymentRepo { return &PaymentRepo{s: s} }

type PaymentRepo struct{ s *Store }

func (r *PaymentRepo) CreateTx(ctx context.Context, q domain.Querier, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.latestByOrder(p.OrderID); ok && !existing.Status.IsTerminal() {
		return fmt.Errorf("order %s: %w", p.OrderID, domain.ErrPaymentAlreadyExists)
	}
	r.s.payments[p.ID] = *p
	return nil
}

func (r *PaymentRepo) GetByOrderIDTx(ctx context.Context, q domain.Querier, orderID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailPaymentLookup != nil {
		return nil, r.s.FailPaymentLookup
	}
	p, ok := r.s.latestByOrder(orderID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", orderID, domain.ErrPaymentNotFound)
	}
	return &p, nil
}

func (r *PaymentRepo) GetByOrderIDForUpdateTx(ctx context.Context, q domain.Querier, orderID string) (*domain.Payment, error) {
	return r.GetByOrderIDTx(ctx, q, orderID)
}

func (r *PaymentRepo) GetByIDForUpdateTx(ctx context.Context, q domain.Querier, id string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrPaymentNotFound)
	}
	return &p, nil
}

func (r *PaymentRepo) UpdateTx(ctx context.Context, q domain.Querier, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailPaymentUpdate != nil {
		return r.s.FailPaymentUpdate
	}
	if _, ok := r.s.payments[p.ID]; !ok {
		return fmt.Errorf("payment %s: %w", p.ID, domain.ErrPaymentNotFound)
	}
	r.s.payments[p.ID] = *p
	return nil
}

func (r *PaymentRepo) ListByStatusCreatedBeforeTx(ctx context.Context, q domain.Querier, status domain.PaymentStatus, cutoff time.Time, limit int) ([]domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.s.payments {
		if p.Status == status && !p.CreatedAt.After(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Inbox implements inbox_repo.InboxRepository.
func (s *Store) Inbox() *InboxRepo { return &InboxRepo{s: s} }

type InboxRepo struct{ s *Store }

func (r *InboxRepo) ExistsTx(ctx context.Context, q domain.Querier, eventID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailEventExists != nil {
		return false, r.s.FailEventExists
	}
	_, ok := r.s.events[eventID]
	return ok, nil
}

func (r *InboxRepo) RecordTx(ctx context.Context, q domain.Querier, ev *domain.ProcessedEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[ev.EventID]; ok {
		return false, nil
	}
	r.s.events[ev.EventID] = *ev
	return true, nil
}

// RetryTasks implements retry_repo.RetryTaskRepository.
func (s *Store) RetryTasks() *RetryTaskRepo { return &RetryTaskRepo{s: s} }

type RetryTaskRepo struct{ s *Store }

func (r *RetryTaskRepo) CreateTx(ctx context.Context, q domain.Querier, t *domain.RetryTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailTaskCreate != nil {
		return r.s.FailTaskCreate
	}
	r.s.tasks[t.ID] = *t
	return nil
}

func (r *RetryTaskRepo) ClaimDueTx(ctx context.Context, q domain.Querier, now time.Time, lease time.Duration, limit int) ([]domain.RetryTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []domain.RetryTask
	for _, t := range r.s.tasks {
		if !t.Processed && !t.NextAttemptAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].NextAttemptAt = now.Add(lease)
		r.s.tasks[due[i].ID] = due[i]
	}
	return due, nil
}

func (r *RetryTaskRepo) UpdateTx(ctx context.Context, q domain.Querier, t *domain.RetryTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[t.ID]; !ok {
		return fmt.Errorf("retry task %s: %w", t.ID, domain.ErrRetryTaskNotFound)
	}
	r.s.tasks[t.ID] = *t
	return nil
}

// Audit implements audit_repo.AuditRepository.
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }

type AuditRepo struct{ s *Store }

func (r *AuditRepo) CreateTx(ctx context.Context, q domain.Querier, e *domain.AuditLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailAuditCreate != nil {
		return r.s.FailAuditCreate
	}
	r.s.audit = append(r.s.audit, *e)
	return nil
}

// DeadLetterRepo implements deadletter_repo.DeadLetterRepository.
func (s *Store) DeadLetterRepo() *DeadLetters { return &DeadLetters{s: s} }

type DeadLetters struct{ s *Store }

func (r *DeadLetters) CreateTx(ctx context.Context, q domain.Querier, dl *domain.DeadLetter) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailDeadLetter != nil {
		return r.s.FailDeadLetter
	}
	r.s.deadLetters = append(r.s.deadLetters, *dl)
	return nil
}
