package model

import (
	"fmt"
	"time"
)

// Physical limits of a machine cabinet.
const (
	MaxTrays        = 7
	MaxSlotsPerTray = 10
)

// Slot represents a single addressable lane in a machine tray.
//
// A slot with MergedInto == nil is a root and is independently editable. When
// MergedInto points at another slot's ID the slot is a child of that merge
// group: it is hidden from the grid, and its capacity, quantity and product
// are zeroed for the lifetime of the merge.
type Slot struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	MachineID   string    `gorm:"index;size:64;not null" json:"machineId"`
	Tray        int       `gorm:"not null" json:"tray"`       // 1..MaxTrays
	SlotNumber  int       `gorm:"not null" json:"slotNumber"` // 1..MaxSlotsPerTray, contiguous in a tray
	Capacity    int       `gorm:"not null" json:"capacity"`
	CurrentQty  int       `gorm:"not null" json:"currentQty"`
	ProductID   *string   `gorm:"size:36" json:"productId"`
	ProductName string    `gorm:"size:256" json:"productName"` // Denormalized from Product.Name
	MergedInto  *string   `gorm:"size:36;index" json:"mergedInto"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsRoot reports whether the slot is not merged into another slot.
func (s *Slot) IsRoot() bool {
	return s.MergedInto == nil
}

// DisplayCode derives the human-facing 3-digit code for the slot.
// Tray 1 yields 111..120, tray 2 yields 121..130, and so on.
func (s *Slot) DisplayCode() int {
	return 110 + (s.Tray-1)*10 + s.SlotNumber
}

// DisplayRange returns the label shown on the grid for a root slot: a single
// code like "111", or "111-112" spanning the root and its merged children.
func (s *Slot) DisplayRange(children []Slot) string {
	min, max := s.DisplayCode(), s.DisplayCode()
	for _, c := range children {
		code := c.DisplayCode()
		if code < min {
			min = code
		}
		if code > max {
			max = code
		}
	}
	if min == max {
		return fmt.Sprintf("%d", min)
	}
	return fmt.Sprintf("%d-%d", min, max)
}
