package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// IPWhitelist returns a middleware that only allows requests from the listed
// addresses. Entries may be single IPs or CIDR ranges. An empty list allows all.
func IPWhitelist(ips []string) gin.HandlerFunc {
	exact := make(map[string]bool, len(ips))
	var nets []*net.IPNet
	for _, ip := range ips {
		if strings.Contains(ip, "/") {
			if _, n, err := net.ParseCIDR(ip); err == nil {
				nets = append(nets, n)
			}
			continue
		}
		exact[ip] = true
	}
	open := len(ips) == 0
	return func(c *gin.Context) {
		if open || allowedIP(c.ClientIP(), exact, nets) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
	}
}

func allowedIP(raw string, exact map[string]bool, nets []*net.IPNet) bool {
	if exact[raw] {
		return true
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
