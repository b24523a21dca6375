package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"snackmaster-backend/internal/model"
	"snackmaster-backend/internal/store"
)

// ListProducts handles GET /api/products.
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.store.ListProducts(c.Request.Context())
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

type createProductRequest struct {
	Name       string `json:"name" binding:"required"`
	SKU        string `json:"sku"`
	PriceCents int    `json:"priceCents"`
}

// CreateProduct handles POST /api/products.
func (h *Handler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product := model.Product{Name: req.Name, SKU: req.SKU, PriceCents: req.PriceCents}
	if err := h.store.CreateProduct(c.Request.Context(), &product); err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": product})
}

type updateProductRequest struct {
	Name       *string `json:"name"`
	SKU        *string `json:"sku"`
	PriceCents *int    `json:"priceCents"`
}

// UpdateProduct handles PUT /api/products/:id. A rename propagates to the
// denormalized product name on slots.
func (h *Handler) UpdateProduct(c *gin.Context) {
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.store.UpdateProduct(c.Request.Context(), c.Param("id"), store.ProductUpdate{
		Name:       req.Name,
		SKU:        req.SKU,
		PriceCents: req.PriceCents,
	})
	if err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteProduct handles DELETE /api/products/:id. Slots keep their
// denormalized product name; nothing cascades.
func (h *Handler) DeleteProduct(c *gin.Context) {
	if err := h.store.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		abortWithStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
