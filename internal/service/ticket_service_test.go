package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-desk/internal/domain"
	"github.com/spec-kit/ticket-desk/internal/events"
	"github.com/spec-kit/ticket-desk/internal/query"
	"github.com/spec-kit/ticket-desk/internal/repository"
	apperrors "github.com/spec-kit/ticket-desk/pkg/util/errorutil"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

var t0 = time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*TicketService, *fixedClock, *recorder) {
	t.Helper()
	clock := &fixedClock{now: t0}
	rec := &recorder{}
	dispatcher := events.NewInMemoryDispatcher(nil)
	for _, et := range events.AllEventTypes {
		dispatcher.Subscribe(et, rec.handle)
	}
	svc := NewTicketService(TicketDependencies{
		TicketRepo: repository.NewMemoryTicketRepository(),
		Dispatcher: dispatcher,
		Clock:      clock.Now,
	})
	return svc, clock, rec
}

func createSample(t *testing.T, svc *TicketService) *domain.Ticket {
	t.Helper()
	ticket, err := svc.CreateTicket(context.Background(), "u-1", TicketCreateInput{
		Title:       "Printer on floor 3",
		Description: "The printer shows a paper jam error all day.",
		Priority:    domain.TicketPriorityMedium,
		Requester:   domain.Requester{Name: "Ana", Email: "ana@empresa.com"},
		Tags:        []string{"hardware"},
	})
	require.NoError(t, err)
	return ticket
}

func strPtr(s string) *string { return &s }

func TestCreateTicketAssignsIdentity(t *testing.T) {
	svc, _, rec := newTestService(t)
	ticket := createSample(t, svc)

	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, "TCK-000001", ticket.Code)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, "2026-02-10T10:00:00.000Z", ticket.Version())
	assert.Equal(t, ticket.CreatedAt, ticket.UpdatedAt)
	assert.Equal(t, []events.EventType{events.EventTicketCreated}, rec.types())

	second := createSample(t, svc)
	assert.Equal(t, "TCK-000002", second.Code)
}

func TestCreateTicketRejectsInvalidPriority(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateTicket(context.Background(), "", TicketCreateInput{Priority: "URGENT"})

	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
}

func TestUpdateTicketWithMatchingVersion(t *testing.T) {
	svc, clock, rec := newTestService(t)
	ticket := createSample(t, svc)
	clock.Set(t0.Add(5 * time.Second))

	updated, err := svc.UpdateTicket(context.Background(), "u-1", ticket.ID,
		TicketUpdateInput{Title: strPtr("Printer on floor 4")}, ticket.Version())
	require.NoError(t, err)

	assert.Equal(t, "Printer on floor 4", updated.Title)
	assert.Equal(t, ticket.Description, updated.Description)
	assert.Equal(t, "2026-02-10T10:00:05.000Z", updated.Version())
	assert.Equal(t, []events.EventType{events.EventTicketCreated, events.EventTicketUpdated}, rec.types())

	stored, err := svc.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
}

func TestUpdateTicketStaleVersionConflicts(t *testing.T) {
	svc, clock, rec := newTestService(t)
	ticket := createSample(t, svc)

	clock.Set(t0.Add(time.Minute))
	first, err := svc.UpdateTicket(context.Background(), "u-1", ticket.ID,
		TicketUpdateInput{Title: strPtr("Updated by Ana")}, ticket.Version())
	require.NoError(t, err)

	_, err = svc.UpdateTicket(context.Background(), "u-2", ticket.ID,
		TicketUpdateInput{Title: strPtr("Updated by Bruno")}, ticket.Version())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ticket.Version(), conflict.Expected)
	assert.Equal(t, *first, conflict.Current)

	stored, err := svc.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "Updated by Ana", stored.Title)
	assert.Contains(t, rec.types(), events.EventTicketConflict)
}

func TestUpdateTicketWithoutVersionIsUnconditional(t *testing.T) {
	svc, _, _ := newTestService(t)
	ticket := createSample(t, svc)

	_, err := svc.UpdateTicket(context.Background(), "", ticket.ID, TicketUpdateInput{Title: strPtr("one")}, "")
	require.NoError(t, err)
	updated, err := svc.UpdateTicket(context.Background(), "", ticket.ID, TicketUpdateInput{Title: strPtr("two")}, "")
	require.NoError(t, err)
	assert.Equal(t, "two", updated.Title)
}

func TestUpdateTicketVersionIsStrictlyIncreasing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ticket := createSample(t, svc)

	// The clock never moves, yet every write must produce a new version.
	version := ticket.Version()
	seen := map[string]bool{version: true}
	for i := 0; i < 5; i++ {
		updated, err := svc.UpdateTicket(context.Background(), "", ticket.ID, TicketUpdateInput{}, version)
		require.NoError(t, err)
		assert.False(t, seen[updated.Version()], "version %s reused", updated.Version())
		assert.Greater(t, updated.Version(), version)
		seen[updated.Version()] = true
		version = updated.Version()
	}
}

func TestUpdateTicketPreservesImmutableFields(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ticket := createSample(t, svc)
	clock.Set(t0.Add(time.Hour))

	status := domain.TicketStatusInProgress
	tags := []string{"hardware", "floor-3"}
	updated, err := svc.UpdateTicket(context.Background(), "", ticket.ID, TicketUpdateInput{
		Status:    &status,
		Requester: &domain.Requester{Name: "Bruno", Email: "bruno@empresa.com"},
		Tags:      &tags,
	}, ticket.Version())
	require.NoError(t, err)

	assert.Equal(t, ticket.ID, updated.ID)
	assert.Equal(t, ticket.Code, updated.Code)
	assert.Equal(t, ticket.CreatedAt, updated.CreatedAt)
	assert.Equal(t, status, updated.Status)
	assert.Equal(t, "Bruno", updated.Requester.Name)
	assert.Equal(t, tags, updated.Tags)
}

func TestUpdateTicketNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.UpdateTicket(context.Background(), "", "missing", TicketUpdateInput{}, "2026-02-10T10:00:00.000Z")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpdateTicketRejectsInvalidEnums(t *testing.T) {
	svc, _, _ := newTestService(t)
	ticket := createSample(t, svc)
	priority := domain.TicketPriority("URGENT")

	_, err := svc.UpdateTicket(context.Background(), "", ticket.ID, TicketUpdateInput{Priority: &priority}, ticket.Version())
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)

	stored, err := svc.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.Version(), stored.Version())
}

func TestConcurrentConditionalUpdatesHaveOneWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ticket := createSample(t, svc)
	version := ticket.Version()

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []*domain.Ticket
		conflicts []*ConflictError
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := svc.UpdateTicket(context.Background(), "", ticket.ID,
				TicketUpdateInput{Title: strPtr("concurrent write")}, version)
			mu.Lock()
			defer mu.Unlock()
			var conflict *ConflictError
			switch {
			case err == nil:
				winners = append(winners, updated)
			case errors.As(err, &conflict):
				conflicts = append(conflicts, conflict)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, conflicts, writers-1)
	for _, c := range conflicts {
		assert.Equal(t, winners[0].Version(), c.Current.Version())
	}
}

func TestPatchStatus(t *testing.T) {
	svc, clock, rec := newTestService(t)
	ticket := createSample(t, svc)
	clock.Set(t0.Add(time.Second))

	updated, err := svc.PatchStatus(context.Background(), "", ticket.ID, domain.TicketStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, updated.Status)
	assert.NotEqual(t, ticket.Version(), updated.Version())
	assert.Contains(t, rec.types(), events.EventTicketStatusChanged)

	_, err = svc.PatchStatus(context.Background(), "", ticket.ID, "DONE")
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)

	_, err = svc.PatchStatus(context.Background(), "", "missing", domain.TicketStatusClosed)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListTicketsRunsEngine(t *testing.T) {
	svc, clock, _ := newTestService(t)
	for i := 0; i < 3; i++ {
		clock.Set(t0.Add(time.Duration(i) * time.Minute))
		createSample(t, svc)
	}

	result, err := svc.ListTickets(context.Background(), query.Params{SortField: "code", SortOrder: "asc", PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.TotalPages)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "TCK-000001", result.Items[0].Code)
}
