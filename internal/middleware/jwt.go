package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// BridgeAudience is the audience of every bridge token.
const BridgeAudience = "huddle-bridge"

// ContextInstanceKey holds the authenticated backend instance id.
const ContextInstanceKey = "instance"

// BridgeClaims identify the backend instance that issued the token.
type BridgeClaims struct {
	Instance string `json:"instance"`
	jwt.RegisteredClaims
}

// NewSecret returns a random HMAC secret for when none is configured.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IssueToken signs a bridge token for instance. A non-positive ttl issues a
// token that lives as long as the secret.
func IssueToken(secret, instance string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := BridgeClaims{
		Instance: instance,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{BridgeAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign bridge token: %w", err)
	}
	return signed, nil
}

// JWTAuth validates the bridge token from the Authorization header, or from
// the token query parameter for WebSocket upgrades.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authorization required",
			})
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &BridgeClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithAudience(BridgeAudience))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid token",
			})
			return
		}

		claims, ok := token.Claims.(*BridgeClaims)
		if !ok || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid token claims",
			})
			return
		}

		c.Set(ContextInstanceKey, claims.Instance)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}
