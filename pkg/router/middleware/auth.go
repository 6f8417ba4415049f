package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/umbrella22/ops-service/pkg/config"
)

// ContextKeyRequesterID is where HandleAuth stores the authenticated
// requester's ID for handlers to read back via c.GetString.
const ContextKeyRequesterID = "auth_requester_id"

// HandleAuth authenticates requests against a static API-key table. Every
// Job is stamped with the resulting requester ID, which the approval gate
// later uses to reject self-approval.
func HandleAuth(authConfig *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isPathExcluded(c.Request.URL.Path, authConfig.ExcludePaths) {
			c.Next()
			return
		}

		key := extractAPIKey(c.Request.Header.Get("Authorization"))
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "missing API key"})
			return
		}

		requesterID, ok := authConfig.APIKeys[key]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "invalid API key"})
			return
		}

		c.Set(ContextKeyRequesterID, requesterID)
		c.Next()
	}
}

// RequesterID returns the authenticated requester's ID, empty if auth is
// disabled or the context key was never set.
func RequesterID(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyRequesterID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func extractAPIKey(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return header
}

func isPathExcluded(path string, excludePaths []string) bool {
	for _, excluded := range excludePaths {
		if strings.HasSuffix(excluded, "*") {
			if strings.HasPrefix(path, strings.TrimSuffix(excluded, "*")) {
				return true
			}
		} else if path == excluded {
			return true
		}
	}
	return false
}
