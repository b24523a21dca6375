package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"snackmaster-backend/internal/model"
	"snackmaster-backend/internal/store"
)

// slotResponse is a root slot decorated with its display addressing and any
// merged children.
type slotResponse struct {
	model.Slot
	DisplayCode  int          `json:"displayCode"`
	DisplayRange string       `json:"displayRange"`
	Children     []model.Slot `json:"children,omitempty"`
}

type trayResponse struct {
	Tray  int            `json:"tray"`
	Slots []slotResponse `json:"slots"`
}

// GetSlotGrid handles GET /api/machines/:id/slots. It returns the grid the
// way the slot designer renders it: trays of root slots, children folded
// into their roots.
func (h *Handler) GetSlotGrid(c *gin.Context) {
	ctx := c.Request.Context()
	machineID := c.Param("id")

	machine, err := h.store.GetMachine(ctx, machineID)
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}

	trays, err := h.store.Trays(ctx, machineID)
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}

	totalSlots := 0
	trayViews := make([]trayResponse, 0, len(trays))
	for _, tray := range trays {
		roots, err := h.store.RootSlots(ctx, machineID, tray)
		if err != nil {
			abortWithStoreErr(c, err)
			return
		}

		slots := make([]slotResponse, 0, len(roots))
		for _, root := range roots {
			children, err := h.store.Children(ctx, root.ID)
			if err != nil {
				abortWithStoreErr(c, err)
				return
			}
			slots = append(slots, slotResponse{
				Slot:         root,
				DisplayCode:  root.DisplayCode(),
				DisplayRange: root.DisplayRange(children),
				Children:     children,
			})
			totalSlots += 1 + len(children)
		}
		trayViews = append(trayViews, trayResponse{Tray: tray, Slots: slots})
	}

	c.JSON(http.StatusOK, gin.H{
		"machine":    machine,
		"trays":      trayViews,
		"totalSlots": totalSlots,
	})
}

type addSlotRequest struct {
	Tray int `json:"tray" binding:"required"`
}

// AddSlot handles POST /api/machines/:id/slots.
func (h *Handler) AddSlot(c *gin.Context) {
	var req addSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slot, err := h.store.AddSlot(c.Request.Context(), c.Param("id"), req.Tray)
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"slot": slot, "displayCode": slot.DisplayCode()})
}

type updateSlotRequest struct {
	Capacity   *int    `json:"capacity"`
	CurrentQty *int    `json:"currentQty"`
	ProductID  *string `json:"productId"`
}

// UpdateSlot handles PUT /api/machines/:id/slots/:slot_id.
func (h *Handler) UpdateSlot(c *gin.Context) {
	var req updateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.store.UpdateSlot(c.Request.Context(), c.Param("id"), c.Param("slot_id"), store.SlotUpdate{
		Capacity:   req.Capacity,
		CurrentQty: req.CurrentQty,
		ProductID:  req.ProductID,
	})
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteSlot handles DELETE /api/machines/:id/slots/:slot_id. The tray is
// renumbered in the same transaction so display codes stay dense.
func (h *Handler) DeleteSlot(c *gin.Context) {
	if err := h.store.DeleteSlot(c.Request.Context(), c.Param("id"), c.Param("slot_id")); err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// MergeRight handles POST /api/machines/:id/slots/:slot_id/merge-right.
func (h *Handler) MergeRight(c *gin.Context) {
	if err := h.store.MergeRight(c.Request.Context(), c.Param("id"), c.Param("slot_id")); err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Demerge handles POST /api/machines/:id/slots/:slot_id/demerge.
func (h *Handler) Demerge(c *gin.Context) {
	if err := h.store.Demerge(c.Request.Context(), c.Param("id"), c.Param("slot_id")); err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type regenerateSlotsRequest struct {
	Trays           int `json:"trays" binding:"required"`
	SlotsPerTray    int `json:"slotsPerTray" binding:"required"`
	DefaultCapacity int `json:"defaultCapacity" binding:"required"`
}

// RegenerateSlots handles POST /api/machines/:id/slots/regenerate. This is
// destructive: the existing grid is dropped and rebuilt empty.
func (h *Handler) RegenerateSlots(c *gin.Context) {
	var req regenerateSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.store.RegenerateSlots(c.Request.Context(), c.Param("id"), req.Trays, req.SlotsPerTray, req.DefaultCapacity)
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
