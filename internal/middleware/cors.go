package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, " + HeaderRequestID
	corsMaxAge       = "86400"
)

// corsPolicy matches request origins against the configured list. Entries are
// exact origins, "*" for any, or "https://*.example.com" for any subdomain.
type corsPolicy struct {
	any      bool
	exact    map[string]bool
	suffixes []string // wildcard entries, matched per subdomain
}

func newCORSPolicy(allowed string) corsPolicy {
	p := corsPolicy{exact: make(map[string]bool)}
	for _, o := range strings.Split(allowed, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			p.any = true
		case strings.Contains(o, "://*."):
			p.suffixes = append(p.suffixes, o)
		default:
			p.exact[o] = true
		}
	}
	if len(p.exact) == 0 && len(p.suffixes) == 0 {
		p.any = true
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if p.any || p.exact[origin] {
		return true
	}
	for _, pattern := range p.suffixes {
		scheme, domain, _ := strings.Cut(pattern, "*")
		rest, ok := strings.CutPrefix(origin, scheme)
		if ok && strings.HasSuffix(rest, domain) && len(rest) > len(domain) && !strings.Contains(rest[:len(rest)-len(domain)], "/") {
			return true
		}
	}
	return false
}

// CORS answers preflights and decorates responses for allowed origins.
// allowedOrigins is a comma-separated list; empty or "*" allows any origin.
// Preflights from other origins are refused with 403.
func CORS(allowedOrigins string) gin.HandlerFunc {
	policy := newCORSPolicy(allowedOrigins)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if origin == "" {
			if preflight {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}
		if !policy.allows(origin) {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h := c.Writer.Header()
		if policy.any {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Expose-Headers", HeaderRequestID)
		if preflight {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
