package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-desk/internal/api/dto"
	"github.com/spec-kit/ticket-desk/internal/domain"
)

// TicketAPI is the server surface the Coordinator drives. *APIClient
// implements it.
type TicketAPI interface {
	ListTickets(ctx context.Context, params ListParams) (ListPage, error)
	GetTicket(ctx context.Context, id string) (dto.Ticket, error)
	CreateTicket(ctx context.Context, fields domain.TicketFields) (dto.Ticket, error)
	UpdateTicket(ctx context.Context, id string, fields domain.TicketFields, expectedVersion string) (dto.Ticket, error)
	PatchStatus(ctx context.Context, id string, status domain.TicketStatus) (dto.Ticket, error)
}

type tokenClearer interface {
	ClearToken()
}

// MutationState is the lifecycle of an optimistic status change.
type MutationState string

const (
	StateIdle              MutationState = "IDLE"
	StateOptimisticApplied MutationState = "OPTIMISTIC_APPLIED"
	StateCommitted         MutationState = "COMMITTED"
	StateRolledBack        MutationState = "ROLLED_BACK"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for state transitions and background errors.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source of optimistic timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogoutHook registers fn to run whenever the session ends.
func WithLogoutHook(fn func()) Option {
	return func(c *Coordinator) {
		c.onLogout = fn
	}
}

type listFetch struct {
	key    string
	cancel context.CancelCauseFunc
	// detached fetches still answer their caller but never write the cache.
	detached bool
}

// Coordinator serves reads from its Cache and runs ticket mutations against
// the API, keeping the cache consistent with their outcome. It is safe for
// concurrent use; no lock is held during network calls.
type Coordinator struct {
	api      TicketAPI
	cache    *Cache
	logger   *zap.Logger
	now      func() time.Time
	onLogout func()

	mu         sync.Mutex
	states     map[string]MutationState
	listSeq    uint64
	listFetch  map[uint64]*listFetch
	refreshing map[string]bool
	background sync.WaitGroup
}

// NewCoordinator builds a Coordinator with its own empty cache.
func NewCoordinator(api TicketAPI, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:        api,
		cache:      NewCache(),
		logger:     zap.NewNop(),
		now:        time.Now,
		states:     make(map[string]MutationState),
		listFetch:  make(map[uint64]*listFetch),
		refreshing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache exposes the coordinator's cache.
func (c *Coordinator) Cache() *Cache {
	return c.cache
}

// State returns the mutation state of ticket id.
func (c *Coordinator) State(id string) MutationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[id]; ok {
		return state
	}
	return StateIdle
}

// Wait blocks until every background refetch has finished.
func (c *Coordinator) Wait() {
	c.background.Wait()
}

// List returns the page for params. Cached pages are returned as is and
// refetched in the background when stale; missing pages are fetched.
func (c *Coordinator) List(ctx context.Context, params ListParams) (ListPage, error) {
	key := params.Key()
	if page, stale, ok := c.cache.List(key); ok {
		if stale {
			c.refresh("list:"+key, func(ctx context.Context) error {
				_, err := c.fetchList(ctx, params)
				return err
			})
		}
		return page, nil
	}
	return c.fetchList(ctx, params)
}

// Get returns ticket id, served like List.
func (c *Coordinator) Get(ctx context.Context, id string) (dto.Ticket, error) {
	if ticket, stale, ok := c.cache.Detail(id); ok {
		if stale {
			c.refresh("detail:"+id, func(ctx context.Context) error {
				_, err := c.fetchDetail(ctx, id)
				return err
			})
		}
		return ticket, nil
	}
	return c.fetchDetail(ctx, id)
}

// Create validates fields and submits a new ticket. Nothing is written to
// the cache before the server answers; a rejected request still marks the
// cache stale.
func (c *Coordinator) Create(ctx context.Context, fields domain.TicketFields) (dto.Ticket, error) {
	if fields.Status == "" {
		fields.Status = domain.TicketStatusOpen
	}
	if errs := domain.ValidateFields(fields); errs != nil {
		return dto.Ticket{}, &ValidationError{Fields: errs}
	}
	ticket, err := c.api.CreateTicket(ctx, fields)
	if err != nil {
		c.cache.Invalidate()
		return dto.Ticket{}, c.fail(err, "create ticket")
	}
	c.cache.StoreDetail(ticket.ID, ticket, c.cache.BeginFetch())
	c.cache.InvalidateLists()
	return ticket, nil
}

// Update submits fields for ticket id conditional on expectedVersion. A lost
// race returns a *ConflictError; cached values are kept but every entry is
// marked stale, whatever the outcome.
func (c *Coordinator) Update(ctx context.Context, id string, fields domain.TicketFields, expectedVersion string) (dto.Ticket, error) {
	if errs := domain.ValidateFields(fields); errs != nil {
		return dto.Ticket{}, &ValidationError{Fields: errs}
	}
	ticket, err := c.api.UpdateTicket(ctx, id, fields, expectedVersion)
	if err != nil {
		c.cache.Invalidate()
		if conflict, ok := IsConflict(err); ok {
			c.logger.Info("update conflict",
				zap.String("ticket_id", id),
				zap.String("expected_version", expectedVersion),
				zap.String("current_version", conflict.Current.UpdatedAt))
			return dto.Ticket{}, conflict
		}
		return dto.Ticket{}, c.fail(err, "update ticket")
	}
	c.cache.StoreDetail(ticket.ID, ticket, c.cache.BeginFetch())
	c.cache.Invalidate()
	return ticket, nil
}

// AcceptConflict adopts the server's version of a ticket after a conflict.
func (c *Coordinator) AcceptConflict(conflict *ConflictError) dto.Ticket {
	current := conflict.Current
	c.cache.StoreDetail(current.ID, current, c.cache.BeginFetch())
	c.cache.InvalidateLists()
	return cloneTicket(current)
}

// ChangeStatus sets the status of ticket id optimistically: every cached copy
// is patched before the request and restored exactly if it fails. Setting
// the status a ticket already has is a no-op.
func (c *Coordinator) ChangeStatus(ctx context.Context, id string, status domain.TicketStatus) (dto.Ticket, error) {
	if !status.Valid() {
		return dto.Ticket{}, &ValidationError{Fields: domain.FieldErrors{"status": "is not a valid status"}}
	}
	if cached, ok := c.cache.Find(id); ok && cached.Status == status {
		return cached, nil
	}

	c.mu.Lock()
	if state, busy := c.states[id]; busy && state != StateIdle {
		c.mu.Unlock()
		return dto.Ticket{}, ErrMutationInFlight
	}
	c.states[id] = StateOptimisticApplied
	c.mu.Unlock()
	defer c.settle(id)

	c.detachListFetches()
	optimistic := domain.FormatTimestamp(c.now())
	snap := c.cache.Patch(id, func(t dto.Ticket) dto.Ticket {
		t.Status = status
		t.UpdatedAt = optimistic
		return t
	})
	c.logger.Debug("optimistic status applied",
		zap.String("ticket_id", id),
		zap.String("status", string(status)),
		zap.Bool("cached", !snap.Empty()))

	ticket, err := c.api.PatchStatus(ctx, id, status)
	if err != nil {
		c.cache.Restore(snap)
		c.transition(id, StateRolledBack)
		c.logger.Debug("status change rolled back", zap.String("ticket_id", id), zap.Error(err))
		return dto.Ticket{}, c.fail(err, "change status")
	}

	c.cache.Patch(id, func(t dto.Ticket) dto.Ticket {
		t.Status = ticket.Status
		t.UpdatedAt = ticket.UpdatedAt
		return t
	})
	c.cache.StoreDetail(ticket.ID, ticket, c.cache.BeginFetch())
	c.transition(id, StateCommitted)
	c.logger.Debug("status change committed", zap.String("ticket_id", id), zap.String("version", ticket.UpdatedAt))
	return ticket, nil
}

// Logout ends the session: credentials and every cache entry are dropped.
func (c *Coordinator) Logout() {
	c.cancelListFetches("", context.Canceled)
	c.cache.Clear()
	if clearer, ok := c.api.(tokenClearer); ok {
		clearer.ClearToken()
	}
	if c.onLogout != nil {
		c.onLogout()
	}
	c.logger.Debug("session cleared")
}

func (c *Coordinator) transition(id string, state MutationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[id] = state
}

func (c *Coordinator) settle(id string) {
	c.cache.Invalidate()
	c.mu.Lock()
	delete(c.states, id)
	c.mu.Unlock()
}

// fail ends the session on auth errors and annotates the rest.
func (c *Coordinator) fail(err error, op string) error {
	if isAuthError(err) {
		c.Logout()
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return err
	}
	return errors.WithMessage(err, op)
}

func (c *Coordinator) fetchList(parent context.Context, params ListParams) (ListPage, error) {
	key := params.Key()
	token := c.cache.BeginFetch()

	// A fetch for another parameter tuple supersedes the ones in flight.
	c.cancelListFetches(key, ErrListSuperseded)
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	fetch := &listFetch{key: key, cancel: cancel}
	c.mu.Lock()
	c.listSeq++
	fetchID := c.listSeq
	c.listFetch[fetchID] = fetch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.listFetch, fetchID)
		c.mu.Unlock()
	}()

	page, err := c.api.ListTickets(ctx, params)
	if err != nil {
		if parent.Err() == nil && errors.Is(context.Cause(ctx), ErrListSuperseded) {
			if cached, _, ok := c.cache.List(key); ok {
				return cached, nil
			}
			return ListPage{}, ErrListSuperseded
		}
		return ListPage{}, c.fail(err, "list tickets")
	}

	c.mu.Lock()
	detached := fetch.detached
	c.mu.Unlock()
	if detached {
		return page.clone(), nil
	}
	if !c.cache.StoreList(key, page, token) {
		if cached, _, ok := c.cache.List(key); ok {
			return cached, nil
		}
	}
	return page.clone(), nil
}

func (c *Coordinator) fetchDetail(ctx context.Context, id string) (dto.Ticket, error) {
	token := c.cache.BeginFetch()
	ticket, err := c.api.GetTicket(ctx, id)
	if err != nil {
		return dto.Ticket{}, c.fail(err, "get ticket")
	}
	if !c.cache.StoreDetail(id, ticket, token) {
		if cached, _, ok := c.cache.Detail(id); ok {
			return cached, nil
		}
	}
	return cloneTicket(ticket), nil
}

// cancelListFetches cancels in-flight list fetches whose key differs from
// keep with cause; an empty keep cancels all of them.
func (c *Coordinator) cancelListFetches(keep string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, fetch := range c.listFetch {
		if keep != "" && fetch.key == keep {
			continue
		}
		fetch.cancel(cause)
		delete(c.listFetch, id)
	}
}

// detachListFetches lets in-flight list fetches finish for their callers
// while keeping their pre-patch pages out of the cache.
func (c *Coordinator) detachListFetches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, fetch := range c.listFetch {
		fetch.detached = true
		delete(c.listFetch, id)
	}
}

// refresh runs fn in the background unless a refresh for name is running.
func (c *Coordinator) refresh(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	if c.refreshing[name] {
		c.mu.Unlock()
		return
	}
	c.refreshing[name] = true
	c.background.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.background.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, name)
			c.mu.Unlock()
		}()
		if err := fn(context.Background()); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrListSuperseded) {
			c.logger.Warn("background refresh failed", zap.String("entry", name), zap.Error(err))
		}
	}()
}
