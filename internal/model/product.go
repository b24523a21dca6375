package model

import "time"

// Product is a catalog entry assignable to slots. Deleting a product does not
// cascade to slots; they keep the denormalized ProductName.
type Product struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Name       string    `gorm:"size:256;not null;index" json:"name"`
	SKU        string    `gorm:"size:64" json:"sku"`
	PriceCents int       `gorm:"not null" json:"priceCents"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
