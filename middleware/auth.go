package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"tripwave/utils"
)

// Principal is the verified identity attached to every authenticated
// request. Authentication itself is an external concern; the core
// trusts the id and role the token carries.
type Principal struct {
	ID   string
	Role string
}

const principalKey = "principal"

// Authenticated extracts and verifies the bearer token, then stores the
// principal on the context. requiredRole of "" accepts any role.
func Authenticated(jwtSecret []byte, requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.RespondError(c, http.StatusUnauthorized, "Please log in to access this content", nil)
			c.Abort()
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			utils.RespondError(c, http.StatusUnauthorized, "Invalid authorization format. Use: Bearer <token>", nil)
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			utils.RespondError(c, http.StatusUnauthorized, "Invalid or expired token", err)
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			utils.RespondError(c, http.StatusUnauthorized, "Invalid token claims", nil)
			c.Abort()
			return
		}
		id, _ := claims["id"].(string)
		role, _ := claims["role"].(string)
		if id == "" {
			utils.RespondError(c, http.StatusUnauthorized, "Invalid token payload", nil)
			c.Abort()
			return
		}
		if role == "" {
			role = "user"
		}

		if requiredRole != "" && role != requiredRole {
			utils.RespondError(c, http.StatusForbidden, "You do not have access to this resource", nil)
			c.Abort()
			return
		}

		c.Set(principalKey, Principal{ID: id, Role: role})
		c.Next()
	}
}

// GetPrincipal returns the verified identity for the current request.
func GetPrincipal(c *gin.Context) Principal {
	return c.MustGet(principalKey).(Principal)
}
