package model

import "time"

// Machine statuses. A machine is never hard-deleted; StatusDeleted is the
// soft-delete marker and deleted machines are excluded from listings.
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusServiceDown = "service_down"
	StatusDisabled    = "disabled"
	StatusDeleted     = "deleted"
)

// ValidStatus reports whether s is one of the recognized machine statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusInactive, StatusServiceDown, StatusDisabled, StatusDeleted:
		return true
	}
	return false
}

// Machine represents a vending machine.
type Machine struct {
	ID                  string     `gorm:"primaryKey;size:64" json:"id"` // Operator-assigned code
	Name                string     `gorm:"size:256;not null" json:"name"`
	Location            string     `gorm:"size:256" json:"location"`
	Capacity            int        `gorm:"not null" json:"capacity"` // Units when full; reconciliation denominator
	Status              string     `gorm:"size:32;not null;default:active" json:"status"`
	CurrentStockPercent int        `gorm:"not null;default:0" json:"currentStockPercent"`
	LastRefillAt        *time.Time `json:"lastRefillAt"`
	LastCSVProcessedAt  *time.Time `json:"lastCsvProcessedAt"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`

	// Associations
	Slots []Slot `gorm:"foreignKey:MachineID" json:"-"`
}
