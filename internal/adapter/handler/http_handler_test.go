package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posterly/order-engine/internal/adapter/storage"
	"github.com/posterly/order-engine/internal/core/domain"
	"github.com/posterly/order-engine/internal/core/service"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := service.NewOrderService(store, store, nil)
	mux := http.NewServeMux()
	NewHTTPHandler(svc, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func orderPayload(productID string, qty int, unitPrice int) string {
	line := unitPrice * qty
	return fmt.Sprintf(`{
		"items": [{"productId": %q, "quantity": %d, "size": "A3", "unitPrice": "%d"}],
		"shippingAddress": {"name": "Rahim", "phone": "01700000000", "street": "12 Lake Rd", "city": "Dhaka"},
		"paymentMethod": "cod",
		"pricing": {"subtotal": "%d", "shipping": "0", "total": "%d"}
	}`, productID, qty, unitPrice, line, line)
}

func doRequest(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeOrder(t *testing.T, resp *http.Response) domain.Order {
	t.Helper()
	defer resp.Body.Close()
	var o domain.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&o))
	return o
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var e struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e.Error
}

func TestCreateOrder_Created(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedProduct(domain.Product{ID: "poster-1", Name: "City Skyline", Stock: 5})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 3, 20),
		map[string]string{"X-User-ID": "user-1"})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decodeOrder(t, resp)
	assert.True(t, strings.HasPrefix(order.OrderNumber, "ORD-"))
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "user-1", order.UserID)

	p, _ := store.Product("poster-1")
	assert.Equal(t, 2, p.Stock)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedProduct(domain.Product{ID: "poster-1", Name: "City Skyline", Stock: 2})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 3, 20),
		map[string]string{"X-User-ID": "user-1"})

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	msg := decodeError(t, resp)
	assert.Contains(t, msg, "City Skyline")
	assert.Contains(t, msg, "requested 3")
	assert.Contains(t, msg, "available 2")
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("ghost", 1, 20),
		map[string]string{"X-User-ID": "user-1"})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateOrder_MissingIdentity(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 1, 20), nil)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateOrder_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", "{not json",
		map[string]string{"X-User-ID": "user-1"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateOrder_DuplicateIdempotencyKey(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedProduct(domain.Product{ID: "poster-1", Name: "City Skyline", Stock: 5})

	headers := map[string]string{"X-User-ID": "user-1", "Idempotency-Key": "req-1"}

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 1, 20), headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 1, 20), headers)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	p, _ := store.Product("poster-1")
	assert.Equal(t, 4, p.Stock)
}

func TestCancelOrder_Flow(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedProduct(domain.Product{ID: "poster-1", Name: "City Skyline", Stock: 10})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 4, 20),
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decodeOrder(t, resp)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/orders/"+order.OrderNumber+"/cancel", "",
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decodeOrder(t, resp)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	p, _ := store.Product("poster-1")
	assert.Equal(t, 10, p.Stock)
}

func TestCancelOrder_WrongUser(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedProduct(domain.Product{ID: "poster-1", Name: "City Skyline", Stock: 10})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 1, 20),
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decodeOrder(t, resp)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/orders/"+order.OrderNumber+"/cancel", "",
		map[string]string{"X-User-ID": "user-2"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelOrder_PastWindow(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedProduct(domain.Product{ID: "poster-1", Name: "City Skyline", Stock: 10})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 1, 20),
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decodeOrder(t, resp)

	admin := map[string]string{"X-Admin": "true"}
	resp = doRequest(t, http.MethodPatch, srv.URL+"/api/orders/"+order.OrderNumber+"/status",
		`{"status": "processing"}`, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = doRequest(t, http.MethodPatch, srv.URL+"/api/orders/"+order.OrderNumber+"/status",
		`{"status": "shipped", "trackingNumber": "TRK-9"}`, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/orders/"+order.OrderNumber+"/cancel", "",
		map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	p, _ := store.Product("poster-1")
	assert.Equal(t, 9, p.Stock)
}

func TestUpdateStatus_RequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPatch, srv.URL+"/api/orders/ORD-1-1/status",
		`{"status": "processing"}`, map[string]string{"X-User-ID": "user-1"})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPatch, srv.URL+"/api/orders/ORD-1-1/status",
		`{"status": "processing"}`, map[string]string{"X-Admin": "true"})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateStatus_IllegalTransition(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedProduct(domain.Product{ID: "poster-1", Name: "City Skyline", Stock: 10})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 1, 20),
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decodeOrder(t, resp)

	resp = doRequest(t, http.MethodPatch, srv.URL+"/api/orders/"+order.OrderNumber+"/status",
		`{"status": "delivered"}`, map[string]string{"X-Admin": "true"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetAndListOrders(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedProduct(domain.Product{ID: "poster-1", Name: "City Skyline", Stock: 10})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/orders", orderPayload("poster-1", 1, 20),
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decodeOrder(t, resp)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/orders/"+order.OrderNumber, "",
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fetched := decodeOrder(t, resp)
	assert.Equal(t, order.OrderNumber, fetched.OrderNumber)

	// Another user cannot read it, but an admin can.
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/orders/"+order.OrderNumber, "",
		map[string]string{"X-User-ID": "user-2"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/orders/"+order.OrderNumber, "",
		map[string]string{"X-Admin": "true"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/orders", "",
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []domain.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Len(t, list, 1)
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
