package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/handlers"
	"github.com/nebulus/gantry/internal/platform/ctxutil"
)

// UserIDHeader carries the caller identity, set by the gateway in front of
// this service. The service trusts it; authentication happens upstream.
const UserIDHeader = "X-User-ID"

func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if raw == "" {
			handlers.RespondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", fmt.Errorf("missing %s header", UserIDHeader))
			c.Abort()
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			handlers.RespondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", fmt.Errorf("invalid %s header", UserIDHeader))
			c.Abort()
			return
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
