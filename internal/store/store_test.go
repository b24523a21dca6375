package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"snackmaster-backend/internal/db"
	"snackmaster-backend/internal/model"
)

// newTestStore opens a uniquely named in-memory SQLite database so tests
// stay isolated from each other.
func newTestStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	t.Cleanup(func() {
		sqlDB, _ := gormDB.DB()
		sqlDB.Close()
	})

	return NewGormStore(gormDB), gormDB
}

func seedMachine(t *testing.T, s Store, id string, capacity int) model.Machine {
	t.Helper()
	m := model.Machine{ID: id, Name: "Machine " + id, Location: "Building A", Capacity: capacity}
	require.NoError(t, s.CreateMachine(context.Background(), &m))
	return m
}

// assertTrayInvariants checks that root slot numbers in the tray form a
// contiguous 1..k sequence and every slot satisfies 0 <= qty <= capacity.
func assertTrayInvariants(t *testing.T, s Store, machineID string, tray int) {
	t.Helper()
	roots, err := s.RootSlots(context.Background(), machineID, tray)
	require.NoError(t, err)
	for i, slot := range roots {
		assert.Equal(t, i+1, slot.SlotNumber, "root slot numbers must be contiguous")
		assert.GreaterOrEqual(t, slot.CurrentQty, 0)
		assert.LessOrEqual(t, slot.CurrentQty, slot.Capacity)
	}
}

func TestAddSlot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)

	slot, err := s.AddSlot(ctx, "m1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, slot.SlotNumber)
	assert.Equal(t, 111, slot.DisplayCode())

	for i := 2; i <= model.MaxSlotsPerTray; i++ {
		slot, err = s.AddSlot(ctx, "m1", 1)
		require.NoError(t, err)
		assert.Equal(t, i, slot.SlotNumber)
	}

	_, err = s.AddSlot(ctx, "m1", 1)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = s.AddSlot(ctx, "m1", model.MaxTrays+1)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	_, err = s.AddSlot(ctx, "m1", 0)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestRegenerateSlots(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 200)

	require.NoError(t, s.RegenerateSlots(ctx, "m1", 2, 10, 10))

	trays, err := s.Trays(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, trays)

	for _, tray := range trays {
		roots, err := s.RootSlots(ctx, "m1", tray)
		require.NoError(t, err)
		require.Len(t, roots, 10)
		for i, slot := range roots {
			assert.Equal(t, i+1, slot.SlotNumber)
			assert.Equal(t, 10, slot.Capacity)
			assert.Equal(t, 0, slot.CurrentQty)
			assert.True(t, slot.IsRoot())
		}
	}

	// Regenerating again replaces the old grid entirely.
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 3, 5))
	trays, err = s.Trays(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, trays)
}

func TestRegenerateSlotsBounds(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 200)

	testCases := []struct {
		name                       string
		trays, perTray, defaultCap int
	}{
		{"Zero trays", 0, 10, 10},
		{"Too many trays", 8, 10, 10},
		{"Zero slots per tray", 3, 0, 10},
		{"Too many slots per tray", 3, 11, 10},
		{"Zero default capacity", 3, 10, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.RegenerateSlots(ctx, "m1", tc.trays, tc.perTray, tc.defaultCap)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}

	err := s.RegenerateSlots(ctx, "missing", 2, 10, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeRight(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 3, 5))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	require.Len(t, roots, 3)
	rootID := roots[0].ID
	neighborID := roots[1].ID

	require.NoError(t, s.MergeRight(ctx, "m1", rootID))

	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, 10, roots[0].Capacity)

	children, err := s.Children(ctx, rootID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	child := children[0]
	assert.Equal(t, neighborID, child.ID)
	assert.Equal(t, 0, child.Capacity)
	assert.Equal(t, 0, child.CurrentQty)
	assert.Nil(t, child.ProductID)
	assert.Equal(t, "", child.ProductName)
	assert.Equal(t, "111-112", roots[0].DisplayRange(children))
}

func TestMergeRightGrowsTheSameRoot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 3, 5))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	rootID := roots[0].ID

	// Two sequential pairwise merges fold the whole tray into one root.
	require.NoError(t, s.MergeRight(ctx, "m1", rootID))
	require.NoError(t, s.MergeRight(ctx, "m1", rootID))

	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, 15, roots[0].Capacity)

	children, err := s.Children(ctx, rootID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
	assert.Equal(t, "111-113", roots[0].DisplayRange(children))

	// Nothing left to absorb.
	err = s.MergeRight(ctx, "m1", rootID)
	assert.ErrorIs(t, err, ErrNoNeighbor)
}

func TestMergeRightPreconditions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 2, 5))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	lastID := roots[1].ID

	// Last slot in the tray has no right neighbor.
	assert.ErrorIs(t, s.MergeRight(ctx, "m1", lastID), ErrNoNeighbor)

	// A merged child cannot be a merge root.
	require.NoError(t, s.MergeRight(ctx, "m1", roots[0].ID))
	assert.ErrorIs(t, s.MergeRight(ctx, "m1", lastID), ErrAlreadyMerged)

	assert.ErrorIs(t, s.MergeRight(ctx, "m1", "missing"), ErrNotFound)
	// A slot cannot be merged through a different machine.
	assert.ErrorIs(t, s.MergeRight(ctx, "other", roots[0].ID), ErrNotFound)
}

func TestMergeDemergeRoundTrip(t *testing.T) {
	testCases := []struct {
		name         string
		capA, capB   int
		expectedEach int
	}{
		// 5+5=10 splits back to 5 each.
		{"Even split", 5, 5, 5},
		// 5+4=9 splits to 4 each; the remainder is dropped by design.
		{"Odd split drops remainder", 5, 4, 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			ctx := context.Background()
			seedMachine(t, s, "m1", 100)
			require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 2, 1))

			roots, err := s.RootSlots(ctx, "m1", 1)
			require.NoError(t, err)
			require.NoError(t, s.UpdateSlot(ctx, "m1", roots[0].ID, SlotUpdate{Capacity: &tc.capA}))
			require.NoError(t, s.UpdateSlot(ctx, "m1", roots[1].ID, SlotUpdate{Capacity: &tc.capB}))

			require.NoError(t, s.MergeRight(ctx, "m1", roots[0].ID))
			require.NoError(t, s.Demerge(ctx, "m1", roots[0].ID))

			roots, err = s.RootSlots(ctx, "m1", 1)
			require.NoError(t, err)
			require.Len(t, roots, 2)
			assert.Equal(t, tc.expectedEach, roots[0].Capacity)
			assert.Equal(t, tc.expectedEach, roots[1].Capacity)
			assert.True(t, roots[1].IsRoot())
			assertTrayInvariants(t, s, "m1", 1)
		})
	}
}

func TestDemerge(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 3, 6))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	rootID := roots[0].ID

	assert.ErrorIs(t, s.Demerge(ctx, "m1", rootID), ErrNotMerged)

	require.NoError(t, s.MergeRight(ctx, "m1", rootID))
	require.NoError(t, s.MergeRight(ctx, "m1", rootID)) // group of 3, capacity 18

	// The root keeps its product; give it some stock to verify the clamp.
	p := model.Product{Name: "Chips"}
	require.NoError(t, s.CreateProduct(ctx, &p))
	qty := 17
	require.NoError(t, s.UpdateSlot(ctx, "m1", rootID, SlotUpdate{CurrentQty: &qty, ProductID: &p.ID}))

	require.NoError(t, s.Demerge(ctx, "m1", rootID))

	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	require.Len(t, roots, 3)

	// 18 / 3 = 6 each; the root's quantity is clamped to its new capacity.
	assert.Equal(t, 6, roots[0].Capacity)
	assert.Equal(t, 6, roots[0].CurrentQty)
	assert.Equal(t, "Chips", roots[0].ProductName)
	for _, child := range roots[1:] {
		assert.Equal(t, 6, child.Capacity)
		assert.Equal(t, 0, child.CurrentQty)
		assert.Nil(t, child.ProductID)
	}
	assertTrayInvariants(t, s, "m1", 1)
}

func TestDemergeFloorsAtOne(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 2, 1))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	rootID := roots[0].ID
	require.NoError(t, s.MergeRight(ctx, "m1", rootID))

	// Group capacity 2 over 2 slots is fine, but shrink the root first so
	// the division would round to zero.
	zero := 0
	require.NoError(t, s.UpdateSlot(ctx, "m1", rootID, SlotUpdate{Capacity: &zero}))
	require.NoError(t, s.Demerge(ctx, "m1", rootID))

	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	for _, slot := range roots {
		assert.Equal(t, 1, slot.Capacity)
	}
}

func TestDeleteSlotRenumbers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 5, 10))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)

	// Delete the middle slot; the tray closes the gap.
	require.NoError(t, s.DeleteSlot(ctx, "m1", roots[2].ID))

	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	require.Len(t, roots, 4)
	assertTrayInvariants(t, s, "m1", 1)

	assert.ErrorIs(t, s.DeleteSlot(ctx, "m1", "missing"), ErrNotFound)
}

func TestDeleteSlotRenumbersMergedChildren(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 3, 5))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	groupRootID := roots[1].ID

	// Merge slots 2 and 3, then delete slot 1 to the group's left. The child
	// has to move down with its root or the group's display range widens and
	// the tray looks one lane longer than it is.
	require.NoError(t, s.MergeRight(ctx, "m1", groupRootID))
	require.NoError(t, s.DeleteSlot(ctx, "m1", roots[0].ID))

	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, 1, roots[0].SlotNumber)
	assert.Equal(t, 10, roots[0].Capacity)

	children, err := s.Children(ctx, groupRootID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, 2, children[0].SlotNumber)
	assert.Equal(t, "111-112", roots[0].DisplayRange(children))

	// The next append continues right after the group, not past a gap.
	slot, err := s.AddSlot(ctx, "m1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, slot.SlotNumber)
	assert.Equal(t, 113, slot.DisplayCode())
}

func TestDeleteRootReleasesChildren(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 3, 5))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	rootID := roots[0].ID
	require.NoError(t, s.MergeRight(ctx, "m1", rootID))

	require.NoError(t, s.DeleteSlot(ctx, "m1", rootID))

	// The former child is a root again, not an orphan pointing at a
	// deleted slot. The absorbed capacity went down with the root.
	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	for _, slot := range roots {
		assert.True(t, slot.IsRoot())
	}
	assertTrayInvariants(t, s, "m1", 1)
}

func TestDeleteSlotEmptiesTray(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 2, 1, 10))

	roots, err := s.RootSlots(ctx, "m1", 2)
	require.NoError(t, err)
	require.NoError(t, s.DeleteSlot(ctx, "m1", roots[0].ID))

	// Trays are derived from slots, so the emptied tray vanishes.
	trays, err := s.Trays(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, trays)
}

func TestUpdateSlot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 2, 10))

	p := model.Product{Name: "Soda", SKU: "SO-1", PriceCents: 150}
	require.NoError(t, s.CreateProduct(ctx, &p))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	slotID := roots[0].ID

	qty := 7
	require.NoError(t, s.UpdateSlot(ctx, "m1", slotID, SlotUpdate{CurrentQty: &qty, ProductID: &p.ID}))

	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	assert.Equal(t, 7, roots[0].CurrentQty)
	assert.Equal(t, "Soda", roots[0].ProductName)
	require.NotNil(t, roots[0].ProductID)
	assert.Equal(t, p.ID, *roots[0].ProductID)

	// Clearing the product empties the denormalized name too.
	empty := ""
	require.NoError(t, s.UpdateSlot(ctx, "m1", slotID, SlotUpdate{ProductID: &empty}))
	roots, _ = s.RootSlots(ctx, "m1", 1)
	assert.Nil(t, roots[0].ProductID)
	assert.Equal(t, "", roots[0].ProductName)
}

func TestUpdateSlotValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 2, 10))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	slotID := roots[0].ID

	over := 11
	assert.ErrorIs(t, s.UpdateSlot(ctx, "m1", slotID, SlotUpdate{CurrentQty: &over}), ErrValidation)

	negative := -1
	assert.ErrorIs(t, s.UpdateSlot(ctx, "m1", slotID, SlotUpdate{Capacity: &negative}), ErrValidation)

	missing := "missing-product"
	assert.ErrorIs(t, s.UpdateSlot(ctx, "m1", slotID, SlotUpdate{ProductID: &missing}), ErrNotFound)

	// Shrinking capacity below the current quantity is rejected in one call.
	qty := 8
	require.NoError(t, s.UpdateSlot(ctx, "m1", slotID, SlotUpdate{CurrentQty: &qty}))
	small := 5
	assert.ErrorIs(t, s.UpdateSlot(ctx, "m1", slotID, SlotUpdate{Capacity: &small}), ErrValidation)

	// Children are hidden from editing.
	require.NoError(t, s.MergeRight(ctx, "m1", slotID))
	childID := roots[1].ID
	ten := 10
	assert.ErrorIs(t, s.UpdateSlot(ctx, "m1", childID, SlotUpdate{Capacity: &ten}), ErrAlreadyMerged)
}

func TestConfirmRefill(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 200)
	require.NoError(t, s.UpdateStockPercent(ctx, "m1", 60))

	entry, err := s.ConfirmRefill(ctx, "m1", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "m1", entry.MachineID)
	assert.Equal(t, 60, entry.PreviousPercent)
	assert.Equal(t, 100, entry.NewPercent)
	assert.Equal(t, 200, entry.Capacity)
	assert.Equal(t, "ops@example.com", entry.UserEmail)
	assert.Equal(t, model.ActionRefillComplete, entry.Action)

	m, err := s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 100, m.CurrentStockPercent)
	assert.NotNil(t, m.LastRefillAt)

	// A second confirmation appends a second, distinct entry whose
	// previous percent is the 100 set by the first.
	second, err := s.ConfirmRefill(ctx, "m1", "")
	require.NoError(t, err)
	assert.NotEqual(t, entry.ID, second.ID)
	assert.Equal(t, 100, second.PreviousPercent)
	assert.Equal(t, "unknown", second.UserEmail)

	logs, err := s.RefillLogs(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	_, err = s.ConfirmRefill(ctx, "missing", "ops@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStockPercent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 200)

	require.NoError(t, s.UpdateStockPercent(ctx, "m1", 42))

	m, err := s.GetMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 42, m.CurrentStockPercent)
	assert.NotNil(t, m.LastCSVProcessedAt)

	assert.ErrorIs(t, s.UpdateStockPercent(ctx, "missing", 42), ErrNotFound)
}

func TestSoftDeleteMachine(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	seedMachine(t, s, "m2", 100)

	require.NoError(t, s.SoftDeleteMachine(ctx, "m2"))

	machines, err := s.ListMachines(ctx)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, "m1", machines[0].ID)

	// The row survives for audit purposes.
	m, err := s.GetMachine(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, m.Status)
}

func TestCreateMachineValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.CreateMachine(ctx, &model.Machine{ID: "m1", Name: "no capacity"})
	assert.ErrorIs(t, err, ErrValidation)

	err = s.CreateMachine(ctx, &model.Machine{ID: "m1", Name: "bad status", Capacity: 10, Status: "retired"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProductDeleteDoesNotCascade(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 1, 10))

	p := model.Product{Name: "Chips"}
	require.NoError(t, s.CreateProduct(ctx, &p))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	require.NoError(t, s.UpdateSlot(ctx, "m1", roots[0].ID, SlotUpdate{ProductID: &p.ID}))

	require.NoError(t, s.DeleteProduct(ctx, p.ID))

	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Chips", roots[0].ProductName, "slot keeps the denormalized name")
}

func TestUpdateProductSyncsSlotNames(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", 100)
	require.NoError(t, s.RegenerateSlots(ctx, "m1", 1, 1, 10))

	p := model.Product{Name: "Chips"}
	require.NoError(t, s.CreateProduct(ctx, &p))

	roots, err := s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	require.NoError(t, s.UpdateSlot(ctx, "m1", roots[0].ID, SlotUpdate{ProductID: &p.ID}))

	renamed := "Crisps"
	require.NoError(t, s.UpdateProduct(ctx, p.ID, ProductUpdate{Name: &renamed}))

	roots, err = s.RootSlots(ctx, "m1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Crisps", roots[0].ProductName)
}
