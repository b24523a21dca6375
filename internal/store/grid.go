package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"snackmaster-backend/internal/model"
)

// defaultSlotCapacity is used when a single slot is appended to a tray.
const defaultSlotCapacity = 10

// Trays returns the sorted distinct tray numbers present among the machine's
// slots. Trays are derived, not stored: a tray with no slots left simply
// disappears from this list.
func (s *gormStore) Trays(ctx context.Context, machineID string) ([]int, error) {
	var trays []int
	err := s.db.WithContext(ctx).Model(&model.Slot{}).
		Where("machine_id = ?", machineID).
		Distinct("tray").
		Order("tray").
		Pluck("tray", &trays).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trays for machine %s: %w", machineID, err)
	}
	return trays, nil
}

// RootSlots returns the tray's unmerged slots ordered by slot number. Merged
// children are hidden from the grid.
func (s *gormStore) RootSlots(ctx context.Context, machineID string, tray int) ([]model.Slot, error) {
	var slots []model.Slot
	err := s.db.WithContext(ctx).
		Where("machine_id = ? AND tray = ? AND merged_into IS NULL", machineID, tray).
		Order("slot_number").
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list root slots for machine %s tray %d: %w", machineID, tray, err)
	}
	return slots, nil
}

// Children returns the slots merged into the given root.
func (s *gormStore) Children(ctx context.Context, rootID string) ([]model.Slot, error) {
	var children []model.Slot
	err := s.db.WithContext(ctx).
		Where("merged_into = ?", rootID).
		Order("slot_number").
		Find(&children).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list children of slot %s: %w", rootID, err)
	}
	return children, nil
}

// AddSlot appends a new empty slot at the end of the tray.
func (s *gormStore) AddSlot(ctx context.Context, machineID string, tray int) (model.Slot, error) {
	if tray < 1 || tray > model.MaxTrays {
		return model.Slot{}, fmt.Errorf("tray %d is out of range 1..%d: %w", tray, model.MaxTrays, ErrCapacityExceeded)
	}

	var slot model.Slot
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		// Lock the tray's last slot so two concurrent appends cannot pick
		// the same number.
		maxNumber := 0
		var last model.Slot
		err := lockForUpdate(tx).
			Where("machine_id = ? AND tray = ?", machineID, tray).
			Order("slot_number DESC").
			First(&last).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			maxNumber = last.SlotNumber
		}
		if maxNumber >= model.MaxSlotsPerTray {
			return fmt.Errorf("tray %d: %w", tray, ErrCapacityExceeded)
		}

		slot = model.Slot{
			ID:         uuid.NewString(),
			MachineID:  machineID,
			Tray:       tray,
			SlotNumber: maxNumber + 1,
			Capacity:   defaultSlotCapacity,
		}
		return tx.Create(&slot).Error
	})
	if err != nil {
		if IsDomainErr(err) {
			return model.Slot{}, err
		}
		return model.Slot{}, fmt.Errorf("failed to add slot to machine %s tray %d: %w", machineID, tray, err)
	}
	return slot, nil
}

// UpdateSlot edits a root slot's product assignment, capacity and quantity.
// Children cannot be edited directly; their root owns them.
func (s *gormStore) UpdateSlot(ctx context.Context, machineID, slotID string, upd SlotUpdate) error {
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		slot, err := fetchSlot(tx, machineID, slotID)
		if err != nil {
			return err
		}
		if !slot.IsRoot() {
			return fmt.Errorf("slot %s: %w", slotID, ErrAlreadyMerged)
		}

		capacity := slot.Capacity
		qty := slot.CurrentQty
		if upd.Capacity != nil {
			capacity = *upd.Capacity
		}
		if upd.CurrentQty != nil {
			qty = *upd.CurrentQty
		}
		if capacity < 0 || qty < 0 || qty > capacity {
			return fmt.Errorf("quantity %d and capacity %d must satisfy 0 <= qty <= capacity: %w",
				qty, capacity, ErrValidation)
		}

		fields := map[string]any{
			"capacity":    capacity,
			"current_qty": qty,
		}
		if upd.ProductID != nil {
			if *upd.ProductID == "" {
				fields["product_id"] = nil
				fields["product_name"] = ""
			} else {
				var p model.Product
				if err := tx.First(&p, "id = ?", *upd.ProductID).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return fmt.Errorf("product %s: %w", *upd.ProductID, ErrNotFound)
					}
					return err
				}
				fields["product_id"] = p.ID
				fields["product_name"] = p.Name
			}
		}

		res := tx.Model(&model.Slot{}).Where("id = ?", slot.ID).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("slot %s was changed concurrently", slot.ID)
		}
		return nil
	})
	if err != nil && !IsDomainErr(err) {
		return fmt.Errorf("failed to update slot %s: %w", slotID, err)
	}
	return err
}

// MergeRight folds the right-hand neighbor into the given root slot. The
// root absorbs the neighbor's capacity; the neighbor becomes a hidden child
// with its capacity, quantity and product cleared. Merging is pairwise:
// repeated calls against the same root grow the group one slot at a time.
//
// Preconditions are re-checked inside the transaction against row-locked
// reads, so a neighbor deleted or merged by a concurrent edit surfaces as
// ErrNoNeighbor, never as a half-applied merge.
func (s *gormStore) MergeRight(ctx context.Context, machineID, rootID string) error {
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		root, err := fetchSlot(tx, machineID, rootID)
		if err != nil {
			return err
		}
		if !root.IsRoot() {
			return fmt.Errorf("slot %s: %w", rootID, ErrAlreadyMerged)
		}

		// The right-hand neighbor is the next root in the tray. In an
		// unmerged tray that is slot_number+1; when the root has already
		// absorbed children the next root sits past them, which is what
		// lets repeated merges grow the same group.
		var neighbor model.Slot
		err = lockForUpdate(tx).Where(
			"machine_id = ? AND tray = ? AND slot_number > ? AND merged_into IS NULL",
			machineID, root.Tray, root.SlotNumber,
		).Order("slot_number").First(&neighbor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("slot %s: %w", rootID, ErrNoNeighbor)
		}
		if err != nil {
			return err
		}

		res := tx.Model(&model.Slot{}).Where("id = ?", root.ID).
			Update("capacity", root.Capacity+neighbor.Capacity)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("slot %s was changed concurrently", root.ID)
		}
		res = tx.Model(&model.Slot{}).Where("id = ?", neighbor.ID).Updates(map[string]any{
			"merged_into":  root.ID,
			"capacity":     0,
			"current_qty":  0,
			"product_id":   nil,
			"product_name": "",
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("slot %s was changed concurrently", neighbor.ID)
		}
		return nil
	})
	if err != nil && !IsDomainErr(err) {
		return fmt.Errorf("failed to merge slot %s: %w", rootID, err)
	}
	return err
}

// Demerge splits a merge group back into individual slots. Capacity is
// redistributed as floor(total / groupSize) with a floor of 1; the remainder
// of an uneven division is dropped. The split is approximate on purpose:
// the original per-slot capacities are not recorded anywhere, so they cannot
// be reconstructed. The root keeps its product; children come back empty.
func (s *gormStore) Demerge(ctx context.Context, machineID, rootID string) error {
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		root, err := fetchSlot(tx, machineID, rootID)
		if err != nil {
			return err
		}
		if !root.IsRoot() {
			return fmt.Errorf("slot %s: %w", rootID, ErrAlreadyMerged)
		}

		var children []model.Slot
		if err := lockForUpdate(tx).Where("merged_into = ?", root.ID).Find(&children).Error; err != nil {
			return err
		}
		if len(children) == 0 {
			return fmt.Errorf("slot %s: %w", rootID, ErrNotMerged)
		}

		each := root.Capacity / (len(children) + 1)
		if each < 1 {
			each = 1
		}

		rootFields := map[string]any{"capacity": each}
		if root.CurrentQty > each {
			// The shrunk root may no longer hold its quantity.
			rootFields["current_qty"] = each
		}
		res := tx.Model(&model.Slot{}).Where("id = ?", root.ID).Updates(rootFields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("slot %s was changed concurrently", root.ID)
		}

		for _, child := range children {
			res := tx.Model(&model.Slot{}).Where("id = ?", child.ID).Updates(map[string]any{
				"merged_into":  nil,
				"capacity":     each,
				"current_qty":  0,
				"product_id":   nil,
				"product_name": "",
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("slot %s was changed concurrently", child.ID)
			}
		}
		return nil
	})
	if err != nil && !IsDomainErr(err) {
		return fmt.Errorf("failed to demerge slot %s: %w", rootID, err)
	}
	return err
}

// DeleteSlot removes a slot and renumbers the tray's remaining roots to a
// contiguous 1..k sequence so display codes stay dense. Children merged into
// the deleted slot are released as empty roots rather than left pointing at
// a slot that no longer exists.
func (s *gormStore) DeleteSlot(ctx context.Context, machineID, slotID string) error {
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		slot, err := fetchSlot(tx, machineID, slotID)
		if err != nil {
			return err
		}

		if err := tx.Model(&model.Slot{}).Where("merged_into = ?", slot.ID).Updates(map[string]any{
			"merged_into":  nil,
			"capacity":     0,
			"current_qty":  0,
			"product_id":   nil,
			"product_name": "",
		}).Error; err != nil {
			return err
		}

		res := tx.Delete(&model.Slot{}, "id = ?", slot.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("slot %s was changed concurrently", slot.ID)
		}

		return renumberTray(tx, machineID, slot.Tray)
	})
	if err != nil && !IsDomainErr(err) {
		return fmt.Errorf("failed to delete slot %s: %w", slotID, err)
	}
	return err
}

// renumberTray reassigns contiguous slot numbers 1..n to all of the tray's
// slots, children included, ordered by their prior number. Children must move
// together with their roots: a stale child number widens the root's display
// range and pushes the next AddSlot past the end of the tray. Runs inside the
// caller's locked transaction so concurrent deletes cannot interleave and
// duplicate numbers.
func renumberTray(tx *gorm.DB, machineID string, tray int) error {
	var slots []model.Slot
	if err := lockForUpdate(tx).
		Where("machine_id = ? AND tray = ?", machineID, tray).
		Order("slot_number").
		Find(&slots).Error; err != nil {
		return err
	}

	for i, slot := range slots {
		next := i + 1
		if slot.SlotNumber == next {
			continue
		}
		res := tx.Model(&model.Slot{}).Where("id = ?", slot.ID).Update("slot_number", next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("slot %s disappeared during renumbering", slot.ID)
		}
	}
	return nil
}

// RegenerateSlots destroys the machine's entire grid and creates a fresh
// trayCount x slotsPerTray layout of empty slots.
func (s *gormStore) RegenerateSlots(ctx context.Context, machineID string, trayCount, slotsPerTray, defaultCapacity int) error {
	if trayCount < 1 || trayCount > model.MaxTrays ||
		slotsPerTray < 1 || slotsPerTray > model.MaxSlotsPerTray ||
		defaultCapacity < 1 {
		return fmt.Errorf("trays %d, slots per tray %d, default capacity %d: %w",
			trayCount, slotsPerTray, defaultCapacity, ErrInvalidConfiguration)
	}

	err := s.inTx(ctx, func(tx *gorm.DB) error {
		// Lock the machine row so two concurrent regenerations cannot both
		// create a grid.
		var m model.Machine
		if err := lockForUpdate(tx).First(&m, "id = ?", machineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("machine %s: %w", machineID, ErrNotFound)
			}
			return err
		}

		if err := tx.Where("machine_id = ?", machineID).Delete(&model.Slot{}).Error; err != nil {
			return err
		}

		slots := make([]model.Slot, 0, trayCount*slotsPerTray)
		for t := 1; t <= trayCount; t++ {
			for n := 1; n <= slotsPerTray; n++ {
				slots = append(slots, model.Slot{
					ID:         uuid.NewString(),
					MachineID:  machineID,
					Tray:       t,
					SlotNumber: n,
					Capacity:   defaultCapacity,
				})
			}
		}
		return tx.Create(&slots).Error
	})
	if err != nil && !IsDomainErr(err) {
		return fmt.Errorf("failed to regenerate slots for machine %s: %w", machineID, err)
	}
	return err
}

// fetchSlot loads a slot scoped to its machine inside a transaction, locking
// the row for the remainder of the transaction.
func fetchSlot(tx *gorm.DB, machineID, slotID string) (model.Slot, error) {
	var slot model.Slot
	err := lockForUpdate(tx).Where("id = ? AND machine_id = ?", slotID, machineID).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Slot{}, fmt.Errorf("slot %s: %w", slotID, ErrNotFound)
	}
	if err != nil {
		return model.Slot{}, err
	}
	return slot, nil
}
