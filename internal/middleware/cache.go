package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const responseMetaKey = "response_meta"

// WithResponseMeta initialises response metadata storage and stamps the processing time.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		meta := map[string]interface{}{}
		c.Set(responseMetaKey, meta)
		c.Next()
		if _, exists := meta["processing_time_ms"]; !exists {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
}

// SetCacheHit records whether the response body came from the catalog cache.
func SetCacheHit(c *gin.Context, hit bool) {
	if meta := ExtractMeta(c); meta != nil {
		meta["cache_hit"] = hit
		return
	}
	c.Set(responseMetaKey, map[string]interface{}{"cache_hit": hit})
}

// ExtractMeta returns the metadata map stored on the context.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	return nil
}
