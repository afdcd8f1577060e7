package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-desk/internal/api/dto"
	"github.com/spec-kit/ticket-desk/internal/domain"
)

func sampleTicket(id string, status domain.TicketStatus) dto.Ticket {
	return dto.Ticket{
		ID:          id,
		Code:        "TCK-" + id,
		Title:       "Ticket " + id,
		Description: "A description long enough to pass.",
		Status:      status,
		Priority:    domain.TicketPriorityMedium,
		Requester:   dto.Requester{Name: "Ana", Email: "ana@empresa.com"},
		Tags:        []string{"erp"},
		CreatedAt:   "2026-02-10T10:00:00.000Z",
		UpdatedAt:   "2026-02-10T10:00:00.000Z",
	}
}

func page(items ...dto.Ticket) ListPage {
	return ListPage{Items: items, Page: 1, PageSize: 10, Total: len(items), TotalPages: 1}
}

func setStatus(status domain.TicketStatus) func(dto.Ticket) dto.Ticket {
	return func(t dto.Ticket) dto.Ticket {
		t.Status = status
		t.Tags = append(t.Tags, "patched")
		return t
	}
}

func TestApplyPatchIsPure(t *testing.T) {
	lists := map[string]listEntry{
		"a": {page: page(sampleTicket("1", domain.TicketStatusOpen), sampleTicket("2", domain.TicketStatusOpen)), stamp: 1},
		"b": {page: page(sampleTicket("3", domain.TicketStatusOpen)), stamp: 2},
	}
	detail := &detailEntry{ticket: sampleTicket("1", domain.TicketStatusOpen), stamp: 3}

	patched, patchedDetail, snap := applyPatch(lists, detail, "1", setStatus(domain.TicketStatusClosed))

	// Inputs are untouched.
	assert.Equal(t, domain.TicketStatusOpen, lists["a"].page.Items[0].Status)
	assert.Equal(t, []string{"erp"}, lists["a"].page.Items[0].Tags)
	assert.Equal(t, domain.TicketStatusOpen, detail.ticket.Status)

	require.Contains(t, patched, "a")
	assert.NotContains(t, patched, "b")
	assert.Equal(t, domain.TicketStatusClosed, patched["a"].page.Items[0].Status)
	assert.Equal(t, domain.TicketStatusOpen, patched["a"].page.Items[1].Status)
	require.NotNil(t, patchedDetail)
	assert.Equal(t, domain.TicketStatusClosed, patchedDetail.ticket.Status)

	assert.Equal(t, lists["a"], snap.lists["a"])
	assert.NotContains(t, snap.lists, "b")
	assert.True(t, snap.hasDetail)
	assert.Equal(t, *detail, snap.detail)
}

func TestApplyPatchWithoutDetail(t *testing.T) {
	_, patchedDetail, snap := applyPatch(map[string]listEntry{}, nil, "1", setStatus(domain.TicketStatusClosed))
	assert.Nil(t, patchedDetail)
	assert.True(t, snap.Empty())
}

func TestPatchAndRestoreAreExact(t *testing.T) {
	c := NewCache()
	listA := ListParams{}.Key()
	listB := ListParams{Status: domain.TicketStatusOpen}.Key()
	require.True(t, c.StoreList(listA, page(sampleTicket("1", domain.TicketStatusOpen), sampleTicket("2", domain.TicketStatusOpen)), c.BeginFetch()))
	require.True(t, c.StoreList(listB, page(sampleTicket("2", domain.TicketStatusOpen)), c.BeginFetch()))
	require.True(t, c.StoreDetail("1", sampleTicket("1", domain.TicketStatusOpen), c.BeginFetch()))

	beforeA, _, _ := c.List(listA)
	beforeB, _, _ := c.List(listB)
	beforeDetail, _, _ := c.Detail("1")

	snap := c.Patch("1", setStatus(domain.TicketStatusResolved))
	patchedA, _, _ := c.List(listA)
	assert.Equal(t, domain.TicketStatusResolved, patchedA.Items[0].Status)
	untouchedB, _, _ := c.List(listB)
	assert.Equal(t, beforeB, untouchedB)

	c.Restore(snap)
	afterA, _, _ := c.List(listA)
	afterDetail, _, _ := c.Detail("1")
	assert.Equal(t, beforeA, afterA)
	assert.Equal(t, beforeDetail, afterDetail)
}

func TestStoreDropsSupersededResults(t *testing.T) {
	c := NewCache()
	key := ListParams{}.Key()

	slow := c.BeginFetch()
	fast := c.BeginFetch()
	require.True(t, c.StoreList(key, page(sampleTicket("1", domain.TicketStatusClosed)), fast))
	assert.False(t, c.StoreList(key, page(sampleTicket("1", domain.TicketStatusOpen)), slow))

	got, _, ok := c.List(key)
	require.True(t, ok)
	assert.Equal(t, domain.TicketStatusClosed, got.Items[0].Status)

	// A fetch begun before an optimistic patch cannot overwrite it.
	inFlight := c.BeginFetch()
	c.Patch("1", setStatus(domain.TicketStatusResolved))
	assert.False(t, c.StoreList(key, page(sampleTicket("1", domain.TicketStatusOpen)), inFlight))
	got, _, _ = c.List(key)
	assert.Equal(t, domain.TicketStatusResolved, got.Items[0].Status)
}

func TestInvalidateAndClear(t *testing.T) {
	c := NewCache()
	key := ListParams{}.Key()
	c.StoreList(key, page(sampleTicket("1", domain.TicketStatusOpen)), c.BeginFetch())
	c.StoreDetail("1", sampleTicket("1", domain.TicketStatusOpen), c.BeginFetch())

	c.InvalidateLists()
	_, stale, _ := c.List(key)
	assert.True(t, stale)
	_, stale, _ = c.Detail("1")
	assert.False(t, stale)

	c.Invalidate()
	_, stale, _ = c.Detail("1")
	assert.True(t, stale)

	pending := c.BeginFetch()
	c.Clear()
	_, _, ok := c.List(key)
	assert.False(t, ok)
	assert.False(t, c.StoreDetail("1", sampleTicket("1", domain.TicketStatusOpen), pending))
	_, _, ok = c.Detail("1")
	assert.False(t, ok)
}

func TestListParamsKeyIsCanonical(t *testing.T) {
	a := ListParams{Text: " vpn ", SortOrder: "DESC"}
	b := ListParams{Text: "vpn", SortField: "updatedAt", SortOrder: "desc", Page: 1, PageSize: 10}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), ListParams{Text: "vpn", Page: 2}.Key())
}
