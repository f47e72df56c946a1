package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// AuthContextKey holds the authenticated user id (int64)
	AuthContextKey = "user_id"
	// AdminContextKey holds the admin id of a verified admin token
	AdminContextKey = "admin_id"

	// RoleAdmin is the only role admin tokens carry
	RoleAdmin = "admin"
)

// SessionLookup resolves an opaque session token to its user
type SessionLookup interface {
	Lookup(token string) (int64, bool)
}

// AdminClaims are the claims of an admin bearer token
type AdminClaims struct {
	AdminID int64  `json:"admin_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// bearer extracts the token of an "Authorization: Bearer <token>" header
func bearer(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", errors.New("Authorization header required")
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.New("Invalid authorization format")
	}
	return parts[1], nil
}

// SessionAuth requires a live session token issued by the auth endpoints.
// The token is read from a bearer header or from X-Auth-Token; an
// X-User-Id header, when sent, must name the session's user.
func SessionAuth(sessions SessionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Auth-Token")
		if token == "" {
			var err error
			if token, err = bearer(c); err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
		}

		userID, ok := sessions.Lookup(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}
		if claimed := c.GetHeader("X-User-Id"); claimed != "" && claimed != strconv.FormatInt(userID, 10) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session does not belong to user"})
			return
		}

		c.Set(AuthContextKey, userID)
		c.Next()
	}
}

// AdminAuth requires an HS256 token signed with secret and carrying the
// admin role
func AdminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearer(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims := &AdminClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		if claims.Role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
			return
		}

		c.Set(AdminContextKey, claims.AdminID)
		c.Next()
	}
}

// GenerateAdminToken signs an admin token for adminID
func GenerateAdminToken(secret string, adminID int64, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		AdminID: adminID,
		Role:    RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// GetUserID retrieves the session user from the context
func GetUserID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(AuthContextKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
