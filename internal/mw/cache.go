package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

// captureWriter tees the response body so it can be stored after the
// handler runs.
type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Cache is a middleware for in-memory caching of GET responses. Machine and
// refill-log listings change rarely relative to how often dashboards poll
// them, so a short TTL takes most of the read load off the database. Only
// 2xx responses are stored.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.RequestURI
		if hit, found := store.Get(key); found {
			resp := hit.(cachedResponse)
			for k, v := range resp.headers {
				c.Writer.Header()[k] = v
			}
			c.Writer.WriteHeader(resp.status)
			c.Writer.Write(resp.body)
			c.Abort()
			return
		}

		cw := &captureWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil)}
		c.Writer = cw

		c.Next()

		if cw.Status() >= 200 && cw.Status() < 300 {
			store.Set(key, cachedResponse{
				status:  cw.Status(),
				headers: cw.Header().Clone(),
				body:    cw.body.Bytes(),
			}, ttl)
		}
	}
}
