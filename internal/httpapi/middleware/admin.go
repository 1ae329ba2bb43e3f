package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-chat/internal/auth"
	"github.com/suPer8Hu/support-chat/internal/common"
)

// BearerToken returns the token of an "Authorization: Bearer <token>" header, or "".
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// IsAdmin checks the request against the admin gate without aborting.
func IsAdmin(c *gin.Context, admin *auth.Admin) bool {
	return admin.Verify(BearerToken(c)) == nil
}

func AdminRequired(admin *auth.Admin) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c, admin) {
			common.Abort(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		c.Next()
	}
}
