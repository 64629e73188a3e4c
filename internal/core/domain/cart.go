package domain

import "time"

// CartItem mirrors OrderItem minus the snapshots taken at placement.
type CartItem struct {
	ID            string         `json:"id"`
	ProductID     string         `json:"productId"`
	Quantity      int            `json:"quantity"`
	Size          string         `json:"size"`
	Customization *Customization `json:"customization,omitempty"`
}

// Cart is owned by the user; the order engine only reads it upstream of
// placement and empties it after the order commits.
type Cart struct {
	UserID    string     `json:"userId"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
