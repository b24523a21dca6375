package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"snackmaster-backend/config"
	"snackmaster-backend/internal/mw"
	"snackmaster-backend/internal/notification"
	"snackmaster-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, s store.Store, webpushOptions *webpush.Options, notifier *notification.WorkerPool) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, webpushOptions, notifier, cfg.Notify.LowStockThreshold)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/machines", caching, handler.ListMachines)
		api.POST("/machines", handler.CreateMachine)
		api.GET("/machines/:id", handler.GetMachine)
		api.PUT("/machines/:id", handler.UpdateMachine)
		api.DELETE("/machines/:id", handler.DeleteMachine)

		api.GET("/machines/:id/slots", handler.GetSlotGrid)
		api.POST("/machines/:id/slots", handler.AddSlot)
		api.POST("/machines/:id/slots/regenerate", handler.RegenerateSlots)
		api.PUT("/machines/:id/slots/:slot_id", handler.UpdateSlot)
		api.DELETE("/machines/:id/slots/:slot_id", handler.DeleteSlot)
		api.POST("/machines/:id/slots/:slot_id/merge-right", handler.MergeRight)
		api.POST("/machines/:id/slots/:slot_id/demerge", handler.Demerge)

		api.POST("/reconcile", handler.Reconcile)
		api.POST("/process-csv", handler.ProcessCSV)
		api.POST("/confirm-refill", handler.ConfirmRefill)
		api.GET("/refill-logs", caching, handler.GetRefillLogs)

		api.GET("/products", handler.ListProducts)
		api.POST("/products", handler.CreateProduct)
		api.PUT("/products/:id", handler.UpdateProduct)
		api.DELETE("/products/:id", handler.DeleteProduct)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
