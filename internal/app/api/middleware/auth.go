package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/config"
	"github.com/fatflowers/subledger/pkg/logctx"
	"github.com/fatflowers/subledger/pkg/response"
)

const (
	RoleAdmin = "admin"

	claimsKey = "auth_claims"
)

// Claims is the session token issued by the account service.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var errNoToken = errors.New("no token")

// AuthMiddleware requires a valid HS256 session token, read from the
// Authorization bearer header or the session cookie.
func AuthMiddleware(cfg config.AuthConfig, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := authenticate(c, cfg)
		if err != nil {
			logctx.FromGin(c, base).Debugw("auth_rejected", "error", err)
			response.Fail(c, apperr.Unauthenticated())
			return
		}

		c.Set(claimsKey, claims)
		uid := strconv.FormatInt(claims.UserID, 10)
		c.Set(logctx.UserIDKey, uid)
		c.Request = c.Request.WithContext(logctx.WithUserID(c.Request.Context(), uid))
		setLogger(c, logctx.FromGin(c, base).With("user_id", uid))
		c.Next()
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Fail(c, apperr.Unauthenticated())
			return
		}
		if claims.Role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorBody{Error: "forbidden"})
			return
		}
		c.Next()
	}
}

// CurrentClaims returns the claims AuthMiddleware stored on c.
func CurrentClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok && claims != nil
}

func authenticate(c *gin.Context, cfg config.AuthConfig) (*Claims, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret not configured")
	}
	raw := bearerToken(c.GetHeader("Authorization"))
	if raw == "" && cfg.CookieName != "" {
		raw, _ = c.Cookie(cfg.CookieName)
	}
	if raw == "" {
		return nil, errNoToken
	}
	return ParseToken(cfg.JWTSecret, raw)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ParseToken verifies raw with secret and returns its claims.
func ParseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token carries no user_id")
	}
	return claims, nil
}

// SignToken issues a token for claims, valid for ttl.
func SignToken(secret string, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
