package domain

import "time"

// Product carries the two counters the order engine mutates. The catalog
// owns everything else about a product.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"` // never negative
	Sold      int       `json:"sold"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
