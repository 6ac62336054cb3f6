package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/cinehub-booking/pkg/response"
)

// Context keys set by Auth
const (
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "role"
)

var errInvalidToken = errors.New("invalid token")

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	Secret string
	Issuer string
}

// Claims is the subset of access-token claims this service reads
type Claims struct {
	UserID string
	Role   string
}

// ParseToken verifies an HS256 access token and extracts its claims
func ParseToken(tokenString string, cfg AuthConfig) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errInvalidToken
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims["sub"].(string)
	}
	if userID == "" {
		return nil, errInvalidToken
	}
	role, _ := claims["role"].(string)

	return &Claims{UserID: userID, Role: role}, nil
}

// Auth validates the bearer token and stores user_id and role in the gin context
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody("MISSING_TOKEN", "Authorization header is required"))
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(header, bearerPrefix) || len(header) == len(bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody("INVALID_TOKEN", "Invalid authorization header format"))
			return
		}

		claims, err := ParseToken(header[len(bearerPrefix):], cfg)
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody(code, "Invalid or expired token"))
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects requests whose token role is not one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextKeyRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorBody("FORBIDDEN", "Insufficient permissions"))
	}
}

// GetUserID returns the authenticated user id
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyUserID)
	return id, id != ""
}
