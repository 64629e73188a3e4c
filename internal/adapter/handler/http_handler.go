package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/posterly/order-engine/internal/core/domain"
	"github.com/posterly/order-engine/internal/core/service"
	"github.com/posterly/order-engine/pkg/logging"
	"github.com/posterly/order-engine/pkg/metrics"
)

const (
	userIDHeader      = "X-User-ID"
	adminHeader       = "X-Admin"
	idempotencyHeader = "Idempotency-Key"
)

type HTTPHandler struct {
	orders  *service.OrderService
	metrics *metrics.ServerMetrics
}

func NewHTTPHandler(orders *service.OrderService, m *metrics.ServerMetrics) *HTTPHandler {
	return &HTTPHandler{orders: orders, metrics: m}
}

// Register wires the routes onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.instrument("create_order", h.CreateOrder))
	mux.HandleFunc("GET /api/orders", h.instrument("list_orders", h.ListOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.instrument("get_order", h.GetOrder))
	mux.HandleFunc("PATCH /api/orders/{id}/status", h.instrument("update_status", h.UpdateStatus))
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.instrument("cancel_order", h.CancelOrder))
	mux.HandleFunc("GET /health", h.HealthCheck)
}

type orderItemRequest struct {
	ProductID     string                `json:"productId"`
	Quantity      int                   `json:"quantity"`
	Size          string                `json:"size"`
	UnitPrice     decimal.Decimal       `json:"unitPrice"`
	Customization *domain.Customization `json:"customization,omitempty"`
}

type createOrderRequest struct {
	Items           []orderItemRequest `json:"items"`
	ShippingAddress domain.Address     `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	PaymentInfo     domain.PaymentInfo `json:"paymentInfo"`
	Pricing         domain.Pricing     `json:"pricing"`
	Notes           string             `json:"notes"`
}

type updateStatusRequest struct {
	Status         domain.OrderStatus `json:"status"`
	Note           string             `json:"note"`
	TrackingNumber string             `json:"trackingNumber"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing user identity"})
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	in := service.PlaceOrderInput{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentInfo:     req.PaymentInfo,
		Pricing:         req.Pricing,
		Notes:           req.Notes,
		IdempotencyKey:  r.Header.Get(idempotencyHeader),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.ItemInput{
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			Size:          it.Size,
			UnitPrice:     it.UnitPrice,
			Customization: it.Customization,
		})
	}

	order, err := h.orders.PlaceOrder(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing user identity"})
		return
	}
	orders, err := h.orders.ListOrders(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" && !isAdmin(r) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing user identity"})
		return
	}
	order, err := h.orders.GetOrder(r.Context(), r.PathValue("id"), userID, isAdmin(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin only"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), req.Status, req.Note, req.TrackingNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing user identity"})
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var (
		stockErr      *domain.InsufficientStockError
		notFoundErr   *domain.ProductNotFoundError
		transitionErr *domain.InvalidStateTransitionError
	)

	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.As(err, &stockErr):
		status, message = http.StatusBadRequest, stockErr.Error()
	case errors.As(err, &notFoundErr):
		status, message = http.StatusNotFound, notFoundErr.Error()
	case errors.As(err, &transitionErr):
		status, message = http.StatusBadRequest, transitionErr.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		status, message = http.StatusNotFound, "order not found"
	case errors.Is(err, domain.ErrNotAuthorized):
		status, message = http.StatusForbidden, "not authorized"
	case errors.Is(err, domain.ErrDuplicateRequest):
		status, message = http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrTransactionConflict):
		status, message = http.StatusConflict, "conflicting update, please retry"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrPricingMismatch):
		status, message = http.StatusBadRequest, err.Error()
	default:
		logging.Log(logging.Fields{
			Component: "http_handler",
			Message:   "request failed",
			Err:       err.Error(),
		})
	}
	writeJSON(w, status, errorResponse{Error: message})
}

// instrument wraps a handler with request counting and latency tracking.
func (h *HTTPHandler) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		h.metrics.Requests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		h.metrics.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func isAdmin(r *http.Request) bool {
	return r.Header.Get(adminHeader) == "true"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
