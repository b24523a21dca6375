package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"snackmaster-backend/internal/model"
	"snackmaster-backend/internal/store"
)

// ListMachines handles GET /api/machines. Soft-deleted machines are omitted.
func (h *Handler) ListMachines(c *gin.Context) {
	machines, err := h.store.ListMachines(c.Request.Context())
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machines": machines})
}

// GetMachine handles GET /api/machines/:id.
func (h *Handler) GetMachine(c *gin.Context) {
	machine, err := h.store.GetMachine(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machine": machine})
}

type createMachineRequest struct {
	ID       string `json:"id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Location string `json:"location"`
	Capacity int    `json:"capacity" binding:"required"`
	Status   string `json:"status"`
}

// CreateMachine handles POST /api/machines.
func (h *Handler) CreateMachine(c *gin.Context) {
	var req createMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	machine := model.Machine{
		ID:       req.ID,
		Name:     req.Name,
		Location: req.Location,
		Capacity: req.Capacity,
		Status:   req.Status,
	}
	if err := h.store.CreateMachine(c.Request.Context(), &machine); err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"machine": machine})
}

type updateMachineRequest struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
	Capacity *int    `json:"capacity"`
	Status   *string `json:"status"`
}

// UpdateMachine handles PUT /api/machines/:id.
func (h *Handler) UpdateMachine(c *gin.Context) {
	var req updateMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.store.UpdateMachine(c.Request.Context(), c.Param("id"), store.MachineUpdate{
		Name:     req.Name,
		Location: req.Location,
		Capacity: req.Capacity,
		Status:   req.Status,
	})
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteMachine handles DELETE /api/machines/:id. Machines are soft-deleted;
// their refill history remains queryable.
func (h *Handler) DeleteMachine(c *gin.Context) {
	if err := h.store.SoftDeleteMachine(c.Request.Context(), c.Param("id")); err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
