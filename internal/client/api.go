// Package client talks to the ticket desk API and keeps a local cache of
// list pages and ticket details consistent with the mutations it performs.
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/spec-kit/ticket-desk/internal/api/dto"
	"github.com/spec-kit/ticket-desk/internal/domain"
	"github.com/spec-kit/ticket-desk/internal/query"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ListParams selects one page of the ticket list.
type ListParams query.Params

// Normalize applies the server's defaults so equivalent requests compare equal.
func (p ListParams) Normalize() ListParams {
	return ListParams(query.Params(p).Normalize())
}

// Key is the canonical cache key of p.
func (p ListParams) Key() string {
	return p.Values().Encode()
}

// Values renders p as query parameters.
func (p ListParams) Values() url.Values {
	n := p.Normalize()
	v := url.Values{}
	if n.Text != "" {
		v.Set("q", n.Text)
	}
	if n.Status != "" {
		v.Set("status", string(n.Status))
	}
	if n.Priority != "" {
		v.Set("priority", string(n.Priority))
	}
	v.Set("_sort", n.SortField)
	v.Set("_order", n.SortOrder)
	v.Set("_page", strconv.Itoa(n.Page))
	v.Set("_per_page", strconv.Itoa(n.PageSize))
	return v
}

// ListPage is one page of tickets in the shape the client works with,
// whatever shape the server answered with.
type ListPage struct {
	Items      []dto.Ticket
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

func (p ListPage) clone() ListPage {
	items := make([]dto.Ticket, len(p.Items))
	for i, item := range p.Items {
		items[i] = cloneTicket(item)
	}
	p.Items = items
	return p
}

func cloneTicket(t dto.Ticket) dto.Ticket {
	if t.Tags != nil {
		t.Tags = append([]string(nil), t.Tags...)
	}
	return t
}

// decodeListResponse accepts either the paginated envelope or a bare array.
// A bare array is taken as the whole result on a single page.
func decodeListResponse(body []byte, params ListParams) (ListPage, error) {
	n := params.Normalize()
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []dto.Ticket
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return ListPage{}, errors.Wrap(err, "decode ticket list")
		}
		if items == nil {
			items = []dto.Ticket{}
		}
		return ListPage{Items: items, Page: n.Page, PageSize: n.PageSize, Total: len(items), TotalPages: 1}, nil
	}

	var env dto.ListResponse
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return ListPage{}, errors.Wrap(err, "decode ticket list")
	}
	pages := env.Pages
	if pages < env.Last {
		pages = env.Last
	}
	if pages < 1 {
		pages = 1
	}
	items := env.Data
	if items == nil {
		items = []dto.Ticket{}
	}
	return ListPage{Items: items, Page: n.Page, PageSize: n.PageSize, Total: env.Items, TotalPages: pages}, nil
}

// APIClient is the HTTP transport to the ticket desk API.
type APIClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time

	mu    sync.RWMutex
	token string
}

// NewAPIClient builds a client for baseURL. A nil httpClient gets a 10s timeout.
func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		now:     time.Now,
	}
}

// SetToken installs the bearer token sent with every request.
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ClearToken forgets the session.
func (c *APIClient) ClearToken() {
	c.SetToken("")
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *APIClient) Login(ctx context.Context, email, password string) (dto.AuthResponse, error) {
	var out dto.AuthResponse
	raw, err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/login",
		body:      dto.UserLoginRequest{Email: email, Password: password},
		anonymous: true,
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrap(err, "decode login response")
	}
	c.SetToken(out.AccessToken)
	return out, nil
}

// ListTickets fetches one page.
func (c *APIClient) ListTickets(ctx context.Context, params ListParams) (ListPage, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: "/tickets", query: params.Values()})
	if err != nil {
		return ListPage{}, err
	}
	return decodeListResponse(raw, params)
}

// GetTicket fetches one ticket.
func (c *APIClient) GetTicket(ctx context.Context, id string) (dto.Ticket, error) {
	return c.ticketRequest(ctx, request{method: http.MethodGet, path: "/tickets/" + url.PathEscape(id)})
}

// CreateTicket submits a new ticket. The server assigns id, code and status.
func (c *APIClient) CreateTicket(ctx context.Context, fields domain.TicketFields) (dto.Ticket, error) {
	return c.ticketRequest(ctx, request{
		method: http.MethodPost,
		path:   "/tickets",
		body: dto.CreateTicketRequest{
			Title:       fields.Title,
			Description: fields.Description,
			Priority:    fields.Priority,
			Requester:   dto.Requester{Name: fields.Requester.Name, Email: fields.Requester.Email},
			Tags:        append([]string{}, fields.Tags...),
		},
	})
}

// UpdateTicket replaces the editable fields of ticket id, conditional on
// expectedVersion when it is non-empty.
func (c *APIClient) UpdateTicket(ctx context.Context, id string, fields domain.TicketFields, expectedVersion string) (dto.Ticket, error) {
	header := http.Header{}
	if expectedVersion != "" {
		header.Set("If-Unmodified-Since", expectedVersion)
	}
	return c.ticketRequest(ctx, request{
		method: http.MethodPut,
		path:   "/tickets/" + url.PathEscape(id),
		header: header,
		body:   dto.UpdateRequestFromFields(fields),
	})
}

// PatchStatus sets the status of ticket id.
func (c *APIClient) PatchStatus(ctx context.Context, id string, status domain.TicketStatus) (dto.Ticket, error) {
	return c.ticketRequest(ctx, request{
		method: http.MethodPatch,
		path:   "/tickets/" + url.PathEscape(id) + "/status",
		body:   dto.StatusRequest{Status: status},
	})
}

func (c *APIClient) ticketRequest(ctx context.Context, req request) (dto.Ticket, error) {
	var out dto.Ticket
	raw, err := c.do(ctx, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrap(err, "decode ticket")
	}
	return out, nil
}

type request struct {
	method    string
	path      string
	query     url.Values
	header    http.Header
	body      any
	anonymous bool
}

func (c *APIClient) do(ctx context.Context, r request) ([]byte, error) {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", r.method, r.path)
	}
	for key, values := range r.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !r.anonymous {
		if token := c.Token(); token != "" {
			if isTokenExpired(token, c.now()) {
				c.ClearToken()
				return nil, ErrSessionExpired
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", r.method, r.path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s %s", r.method, r.path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.decodeError(resp.StatusCode, raw, r.anonymous)
	}
	return raw, nil
}

type errorBody struct {
	Code          string      `json:"code"`
	Message       string      `json:"message"`
	CurrentTicket *dto.Ticket `json:"currentTicket"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *APIClient) decodeError(status int, raw []byte, anonymous bool) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	code, message := body.Code, body.Message
	if body.Error != nil {
		code, message = body.Error.Code, body.Error.Message
	}
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized && !anonymous:
		c.ClearToken()
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict && body.CurrentTicket != nil:
		return &ConflictError{Message: message, Current: *body.CurrentTicket}
	default:
		return &StatusError{StatusCode: status, Code: code, Message: message}
	}
}

// isTokenExpired reads the exp claim without verifying the signature. Tokens
// that cannot be decoded or carry no exp are treated as expired.
func isTokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !now.Before(claims.ExpiresAt.Time)
}
