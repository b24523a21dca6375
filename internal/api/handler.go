package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"snackmaster-backend/internal/notification"
	"snackmaster-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store             store.Store
	webpush           *webpush.Options
	notifier          *notification.WorkerPool
	lowStockThreshold int
}

// NewHandler creates a new API handler. notifier may be nil when low-stock
// alerts are disabled.
func NewHandler(s store.Store, webpushOptions *webpush.Options, notifier *notification.WorkerPool, lowStockThreshold int) *Handler {
	return &Handler{
		store:             s,
		webpush:           webpushOptions,
		notifier:          notifier,
		lowStockThreshold: lowStockThreshold,
	}
}

// abortWithStoreErr maps store errors onto HTTP statuses. Domain errors keep
// their actionable message; anything else is a generic retryable failure.
func abortWithStoreErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrInvalidConfiguration),
		errors.Is(err, store.ErrCapacityExceeded):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNoNeighbor),
		errors.Is(err, store.ErrAlreadyMerged),
		errors.Is(err, store.ErrNotMerged):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server error, please try again"})
	}
}
