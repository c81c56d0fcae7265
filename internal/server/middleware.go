package server

import (
	"net"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"travelist/internal/apperr"
	"travelist/internal/config"
	"travelist/internal/logging"
	"travelist/internal/metrics"
)

// requestMetrics records one API metrics entry per request, keyed by the
// registered route pattern so path parameters do not explode cardinality.
func requestMetrics(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		reg.RecordAPI(c.Request.Method, path, time.Since(started))
	}
}

// recovery converts handler panics into the unified 500 envelope.
func recovery(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				Fail(c, apperr.Newf(apperr.KindInternal, "internal error"))
				c.Abort()
			}
		}()
		c.Next()
	}
}

// adminAuth guards /admin routes: token via X-Admin-Token header, token
// query parameter or admin_token cookie, plus an optional client IP
// allow-list. An empty configured token disables the admin surface.
func adminAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminAPIToken == "" {
			Fail(c, apperr.New(apperr.KindAdminRequired, "admin API is disabled"))
			c.Abort()
			return
		}
		token := c.GetHeader("X-Admin-Token")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			token, _ = c.Cookie("admin_token")
		}
		if token != cfg.AdminAPIToken {
			Fail(c, apperr.New(apperr.KindAdminRequired, "invalid admin token"))
			c.Abort()
			return
		}
		if len(cfg.AdminAllowedIPs) > 0 && !ipAllowed(c.ClientIP(), cfg.AdminAllowedIPs) {
			Fail(c, apperr.New(apperr.KindAdminRequired, "client address not allowed"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func ipAllowed(clientIP string, allowed []string) bool {
	ip := net.ParseIP(strings.TrimSpace(clientIP))
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == clientIP {
			return true
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && ip != nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}
