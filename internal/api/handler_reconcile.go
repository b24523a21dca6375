package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"snackmaster-backend/internal/notification"
	"snackmaster-backend/internal/reconcile"
)

// Reconcile handles POST /api/reconcile. The operator uploads the master
// load manifest and the sales transaction log as multipart CSV files; the
// response is the per-product reconciliation table for review. Nothing is
// persisted here: the operator confirms via /api/process-csv or
// /api/confirm-refill afterwards.
func (h *Handler) Reconcile(c *gin.Context) {
	machineID := c.PostForm("machine_id")
	if machineID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "machine_id is required"})
		return
	}

	machine, err := h.store.GetMachine(c.Request.Context(), machineID)
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}

	masterFile, err := c.FormFile("master")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "master CSV file is required"})
		return
	}
	salesFile, err := c.FormFile("sales")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sales CSV file is required"})
		return
	}

	mf, err := masterFile.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open master CSV"})
		return
	}
	defer mf.Close()
	master, err := reconcile.ParseMaster(mf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed master CSV: " + err.Error()})
		return
	}

	sf, err := salesFile.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open sales CSV"})
		return
	}
	defer sf.Close()
	sales, err := reconcile.ParseSales(sf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed sales CSV: " + err.Error()})
		return
	}

	result := reconcile.Reconcile(master, sales, machine.Capacity)
	c.JSON(http.StatusOK, gin.H{
		"machineId":       machineID,
		"capacity":        machine.Capacity,
		"results":         result.Rows,
		"remainingSum":    result.RemainingSum,
		"percent":         result.Percent,
		"unknownProducts": result.UnknownProducts,
	})
}

type processCSVResult struct {
	// Accepts whatever the review table sends: numbers pass through,
	// numeric strings parse, anything else counts as 0.
	RemainingQty any `json:"remainingQty"`
}

func (r processCSVResult) qty() float64 {
	switch v := r.RemainingQty.(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

type processCSVRequest struct {
	MachineID string             `json:"machineId"`
	Results   []processCSVResult `json:"results"`
	Capacity  *int               `json:"capacity"`
}

// ProcessCSV handles POST /api/process-csv: it commits a previously computed
// reconciliation result as the machine's cached stock percentage.
func (h *Handler) ProcessCSV(c *gin.Context) {
	var req processCSVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}
	if req.MachineID == "" || req.Results == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	remainingSum := 0.0
	for _, r := range req.Results {
		remainingSum += r.qty()
	}

	capacity := 100
	if req.Capacity != nil {
		capacity = *req.Capacity
	}
	percent := reconcile.ComputePercent(remainingSum, capacity)

	if err := h.store.UpdateStockPercent(c.Request.Context(), req.MachineID, percent); err != nil {
		abortWithStoreErr(c, err)
		return
	}

	if h.notifier != nil && percent <= h.lowStockThreshold {
		h.notifier.Dispatch(notification.Job{MachineID: req.MachineID, Percent: percent})
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "percent": percent, "remainingSum": remainingSum})
}

type confirmRefillRequest struct {
	MachineID string `json:"machineId"`
	UserEmail string `json:"userEmail"`
	// Results are accepted for compatibility with the review flow but are
	// informational only: a confirmed refill always resets to 100%.
	Results []processCSVResult `json:"results"`
}

// ConfirmRefill handles POST /api/confirm-refill: the machine is reset to a
// full stock reading and an audit entry is appended.
func (h *Handler) ConfirmRefill(c *gin.Context) {
	var req confirmRefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}
	if req.MachineID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing machineId"})
		return
	}

	if _, err := h.store.ConfirmRefill(c.Request.Context(), req.MachineID, req.UserEmail); err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetRefillLogs handles GET /api/refill-logs?machine_id=...
func (h *Handler) GetRefillLogs(c *gin.Context) {
	logs, err := h.store.RefillLogs(c.Request.Context(), c.Query("machine_id"))
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
