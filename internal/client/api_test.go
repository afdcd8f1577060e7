package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-desk/internal/api/dto"
	"github.com/spec-kit/ticket-desk/internal/domain"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: jwt.NewNumericDate(exp)}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestDecodeListResponseShapes(t *testing.T) {
	envelope := `{"first":1,"prev":null,"next":2,"last":3,"pages":3,"items":25,
		"data":[{"id":"1","code":"TCK-000001","status":"OPEN","tags":[]}]}`
	got, err := decodeListResponse([]byte(envelope), ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 25, got.Total)
	assert.Equal(t, 3, got.TotalPages)
	assert.Equal(t, 1, got.Page)
	assert.Equal(t, 10, got.PageSize)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "TCK-000001", got.Items[0].Code)

	bare := ` [{"id":"1"},{"id":"2"}]`
	got, err = decodeListResponse([]byte(bare), ListParams{Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 1, got.TotalPages)
	assert.Equal(t, 2, got.Page)
	assert.Len(t, got.Items, 2)

	got, err = decodeListResponse([]byte(`[]`), ListParams{})
	require.NoError(t, err)
	assert.NotNil(t, got.Items)
	assert.Equal(t, 1, got.TotalPages)

	_, err = decodeListResponse([]byte(`{"data":`), ListParams{})
	assert.Error(t, err)
}

func TestAPIClientSendsVersionAndMapsConflict(t *testing.T) {
	current := sampleTicket("1", domain.TicketStatusInProgress)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tickets/1", r.URL.Path)
		assert.Equal(t, "2026-02-10T10:00:00.000Z", r.Header.Get("If-Unmodified-Since"))
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")

		var body dto.UpdateTicketRequest
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "VPN keeps dropping", *body.Title)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(dto.ConflictResponse{Code: "TICKET_CONFLICT", Message: "modified", CurrentTicket: current})
	}))
	defer srv.Close()

	api := NewAPIClient(srv.URL, srv.Client())
	api.SetToken(signedToken(t, time.Now().Add(time.Hour)))

	_, err := api.UpdateTicket(context.Background(), "1", validFields(), "2026-02-10T10:00:00.000Z")
	conflict, ok := IsConflict(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "modified", conflict.Message)
	assert.Equal(t, current, conflict.Current)
}

func TestAPIClientErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tickets/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"ticket not found"}}`))
		case "/tickets/denied":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"VALIDATION_FAILED","message":"invalid status"}}`))
		}
	}))
	defer srv.Close()

	api := NewAPIClient(srv.URL, srv.Client())
	api.SetToken(signedToken(t, time.Now().Add(time.Hour)))

	_, err := api.GetTicket(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = api.PatchStatus(context.Background(), "1", "DONE")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", statusErr.Code)

	_, err = api.GetTicket(context.Background(), "denied")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Empty(t, api.Token())
}

func TestAPIClientRejectsExpiredTokenWithoutRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	api := NewAPIClient(srv.URL, srv.Client())
	api.SetToken(signedToken(t, time.Now().Add(-time.Minute)))

	_, err := api.ListTickets(context.Background(), ListParams{})
	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.Zero(t, hits.Load())
	assert.Empty(t, api.Token())
}

func TestAPIClientLoginStoresToken(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(dto.AuthResponse{AccessToken: token, User: dto.User{ID: "u-1", Name: "Ana"}})
	}))
	defer srv.Close()

	api := NewAPIClient(srv.URL, srv.Client())
	api.SetToken("garbage")
	resp, err := api.Login(context.Background(), "ana@empresa.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "Ana", resp.User.Name)
	assert.Equal(t, token, api.Token())
}

func TestAPIClientListSendsCanonicalQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "vpn", q.Get("q"))
		assert.Equal(t, "OPEN", q.Get("status"))
		assert.Equal(t, "updatedAt", q.Get("_sort"))
		assert.Equal(t, "desc", q.Get("_order"))
		assert.Equal(t, "2", q.Get("_page"))
		assert.Equal(t, "10", q.Get("_per_page"))
		_, _ = w.Write([]byte(`{"first":1,"prev":1,"next":null,"last":2,"pages":2,"items":11,"data":[]}`))
	}))
	defer srv.Close()

	api := NewAPIClient(srv.URL, srv.Client())
	api.SetToken(signedToken(t, time.Now().Add(time.Hour)))
	got, err := api.ListTickets(context.Background(), ListParams{Text: "vpn", Status: domain.TicketStatusOpen, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 11, got.Total)
	assert.Equal(t, 2, got.Page)
	assert.Empty(t, got.Items)
}

func TestIsTokenExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, isTokenExpired(signedToken(t, now.Add(time.Minute)), now))
	assert.True(t, isTokenExpired(signedToken(t, now.Add(-time.Second)), now))
	assert.True(t, isTokenExpired("not-a-token", now))

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u"}).SignedString([]byte("k"))
	require.NoError(t, err)
	assert.True(t, isTokenExpired(noExp, now))
}
