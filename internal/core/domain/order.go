package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusPendingAdmin OrderStatus = "pending_admin_review"
	OrderStatusProcessing   OrderStatus = "processing"
	OrderStatusPrinting     OrderStatus = "printing"
	OrderStatusShipped      OrderStatus = "shipped"
	OrderStatusDelivered    OrderStatus = "delivered"
	OrderStatusCancelled    OrderStatus = "cancelled"
	OrderStatusRejected     OrderStatus = "rejected"
)

// transitions is the whitelist of legal status moves. Terminal states
// (delivered, cancelled, rejected) have no outgoing edges.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:      {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusPendingAdmin: {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusProcessing:   {OrderStatusPrinting, OrderStatusShipped, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusPrinting:     {OrderStatusShipped, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusShipped:      {OrderStatusDelivered, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusDelivered:    {},
	OrderStatusCancelled:    {},
	OrderStatusRejected:     {},
}

func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
func CanTransition(s, next OrderStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Compensated reports whether the status implies inventory has already
// been restored (or must never be restored again).
func (s OrderStatus) Compensated() bool {
	return s == OrderStatusCancelled || s == OrderStatusRejected
}

// UserCancellable reports whether the order owner may still cancel.
// Once fulfillment has started only admins control the lifecycle.
func (s OrderStatus) UserCancellable() bool {
	return s == OrderStatusPending || s == OrderStatusPendingAdmin
}

type CustomizationStatus string

const (
	CustomizationPending  CustomizationStatus = "pending"
	CustomizationApproved CustomizationStatus = "approved"
	CustomizationRejected CustomizationStatus = "rejected"
)

// Customization is the per-item payload (uploaded artwork, text overlay,
// frame choice) that forces an order into admin review.
type Customization struct {
	ImageRef    string              `json:"imageRef,omitempty"`
	TextOverlay string              `json:"textOverlay,omitempty"`
	FrameChoice string              `json:"frameChoice,omitempty"`
	Status      CustomizationStatus `json:"status,omitempty"`
}

func (c *Customization) Empty() bool {
	return c == nil || (c.ImageRef == "" && c.TextOverlay == "" && c.FrameChoice == "")
}

// OrderItem is a snapshot taken at placement time: name and unit price
// are copied from the catalog, never referenced live.
type OrderItem struct {
	ProductID     string          `json:"productId"`
	Name          string          `json:"name"`
	Size          string          `json:"size"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Customization *Customization  `json:"customization,omitempty"`
}

type StatusChange struct {
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	ChangedAt time.Time   `json:"changedAt"`
}

type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	District   string `json:"district,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

type PaymentInfo struct {
	TransactionID string `json:"transactionId,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
}

// Order is the aggregate: the order row plus its items and append-only
// status history, treated as one consistency boundary.
type Order struct {
	ID              int64          `json:"-"`
	OrderNumber     string         `json:"orderNumber"`
	UserID          string         `json:"userId"`
	Items           []OrderItem    `json:"items"`
	Pricing         Pricing        `json:"pricing"`
	ShippingAddress Address        `json:"shippingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
	PaymentInfo     PaymentInfo    `json:"paymentInfo"`
	Notes           string         `json:"notes,omitempty"`
	TrackingNumber  string         `json:"trackingNumber,omitempty"`
	Status          OrderStatus    `json:"orderStatus"`
	StatusHistory   []StatusChange `json:"statusHistory"`
	HasCustomItems  bool           `json:"hasCustomItems"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// HasCustomization reports whether any item carries a non-empty
// customization payload. Presence of one forces admin review.
func (o *Order) HasCustomization() bool {
	for i := range o.Items {
		if !o.Items[i].Customization.Empty() {
			return true
		}
	}
	return false
}
