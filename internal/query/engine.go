// Package query implements the ticket listing contract: text search, exact
// filters, a stable locale-aware sort and 1-based pagination.
package query

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/spec-kit/ticket-desk/internal/domain"
)

const (
	DefaultPage      = 1
	DefaultPageSize  = 10
	DefaultSortField = "updatedAt"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Params describes one listing request.
type Params struct {
	Text      string
	Status    domain.TicketStatus
	Priority  domain.TicketPriority
	SortField string
	SortOrder string
	Page      int
	PageSize  int
}

// Result is a single page plus pagination metadata.
type Result struct {
	Items      []domain.Ticket
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// Engine runs listing requests over a full record set.
type Engine struct {
	tag language.Tag
}

// NewEngine builds an engine that compares sort keys with the collation
// rules of locale. Unknown locales fall back to the root collation.
func NewEngine(locale string) *Engine {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return &Engine{tag: tag}
}

// Normalize applies defaults to p.
func (p Params) Normalize() Params {
	p.Text = strings.TrimSpace(p.Text)
	if p.SortField == "" {
		p.SortField = DefaultSortField
	}
	if !strings.EqualFold(p.SortOrder, OrderAsc) {
		p.SortOrder = OrderDesc
	} else {
		p.SortOrder = OrderAsc
	}
	if p.Page <= 0 {
		p.Page = DefaultPage
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	return p
}

// Run filters, sorts and paginates records. records must be in store order;
// the slice is not modified.
func (e *Engine) Run(records []domain.Ticket, params Params) Result {
	params = params.Normalize()

	filtered := make([]domain.Ticket, 0, len(records))
	needle := strings.ToLower(params.Text)
	for _, ticket := range records {
		if needle != "" && !strings.Contains(haystack(ticket), needle) {
			continue
		}
		if params.Status != "" && ticket.Status != params.Status {
			continue
		}
		if params.Priority != "" && ticket.Priority != params.Priority {
			continue
		}
		filtered = append(filtered, ticket)
	}

	// Collators keep internal buffers, so each run gets its own.
	collator := collate.New(e.tag)
	keys := make([]string, len(filtered))
	for i := range filtered {
		keys[i] = SortValue(filtered[i], params.SortField)
	}
	idx := make([]int, len(filtered))
	for i := range idx {
		idx[i] = i
	}
	desc := params.SortOrder == OrderDesc
	sort.SliceStable(idx, func(a, b int) bool {
		cmp := collator.CompareString(keys[idx[a]], keys[idx[b]])
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})

	total := len(filtered)
	totalPages := total / params.PageSize
	if total%params.PageSize != 0 {
		totalPages++
	}
	if totalPages < 1 {
		totalPages = 1
	}

	// Page <= totalPages keeps start below total, so the products cannot overflow.
	items := []domain.Ticket{}
	if params.Page <= totalPages && total > 0 {
		start := (params.Page - 1) * params.PageSize
		end := total
		if total-start > params.PageSize {
			end = start + params.PageSize
		}
		for _, i := range idx[start:end] {
			items = append(items, filtered[i].Clone())
		}
	}

	return Result{
		Items:      items,
		Page:       params.Page,
		PageSize:   params.PageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}

func haystack(t domain.Ticket) string {
	return strings.ToLower(t.Title + " " + t.Code + " " + t.Requester.Email)
}

// SortValue coerces the named field of t to the string used as its sort key.
// Unknown fields yield "" so the store order is kept.
func SortValue(t domain.Ticket, field string) string {
	switch field {
	case "id":
		return t.ID
	case "code":
		return t.Code
	case "title":
		return t.Title
	case "description":
		return t.Description
	case "status":
		return string(t.Status)
	case "priority":
		return string(t.Priority)
	case "requester", "requester.email":
		return t.Requester.Email
	case "requester.name":
		return t.Requester.Name
	case "tags":
		return strings.Join(t.Tags, ",")
	case "createdAt":
		return domain.FormatTimestamp(t.CreatedAt)
	case "updatedAt":
		return domain.FormatTimestamp(t.UpdatedAt)
	default:
		return ""
	}
}

// Values looks up a raw query parameter; url.Values.Get satisfies it.
type Values func(key string) string

// ParseParams reads listing parameters, accepting the aliases page, pageSize
// and _limit. Unparseable numbers become 0 and are defaulted by Normalize.
func ParseParams(get Values) Params {
	return Params{
		Text:      get("q"),
		Status:    domain.TicketStatus(strings.TrimSpace(get("status"))),
		Priority:  domain.TicketPriority(strings.TrimSpace(get("priority"))),
		SortField: strings.TrimSpace(get("_sort")),
		SortOrder: strings.TrimSpace(get("_order")),
		Page:      firstInt(get, "_page", "page"),
		PageSize:  firstInt(get, "_per_page", "pageSize", "_limit"),
	}.Normalize()
}

func firstInt(get Values, keys ...string) int {
	for _, key := range keys {
		raw := strings.TrimSpace(get(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
