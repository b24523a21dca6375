package model

import "time"

// ActionRefillComplete tags refill audit entries.
const ActionRefillComplete = "refill_complete"

// RefillLog is an append-only audit record written once per confirmed refill.
// Machine name and location are snapshotted so the entry stays meaningful if
// the machine is later renamed or soft-deleted.
type RefillLog struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	MachineID       string    `gorm:"index;size:64;not null" json:"machineId"`
	MachineName     string    `gorm:"size:256" json:"machineName"`
	MachineLocation string    `gorm:"size:256" json:"machineLocation"`
	UserEmail       string    `gorm:"size:256" json:"userEmail"`
	Capacity        int       `json:"capacity"`
	PreviousPercent int       `json:"previousPercent"`
	NewPercent      int       `json:"newPercent"` // Always 100
	Action          string    `gorm:"size:64" json:"action"`
	CreatedAt       time.Time `json:"createdAt"`
}
