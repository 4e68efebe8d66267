package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/photon-storage/go-common/log"
)

const (
	// ContextKeyUserID is the gin context key of the authenticated
	// subject.
	ContextKeyUserID = "userID"

	AccessTokenCookieName = "sb-access-token"

	bearerPrefix = "Bearer "
)

// AuthConfig holds the HS256 secret bearer tokens are signed with.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"jwt_secret"`
}

// Auth verifies bearer tokens. Without a secret it lets every request
// through and says so once.
type Auth struct {
	secret []byte
	warn   sync.Once
}

// NewAuth returns the middleware for cfg.
func NewAuth(cfg AuthConfig) *Auth {
	return &Auth{secret: []byte(cfg.JWTSecret)}
}

// Enabled reports whether tokens are verified.
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0
}

// Handler rejects requests without a valid token with 401.
func (a *Auth) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			a.warn.Do(func() {
				log.Warn("jwt secret not configured, skipping auth enforcement")
			})
			c.Next()
			return
		}

		token := extractToken(c.Request)
		if token == "" {
			unauthorized(c)
			return
		}

		userID, err := a.verify(token)
		if err != nil {
			log.Debug("jwt verification failed", "error", err)
			unauthorized(c)
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

func (a *Auth) verify(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	); err != nil {
		return "", err
	}

	for _, key := range []string{"sub", "user_id"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v, nil
		}
	}

	return "", jwt.ErrTokenInvalidClaims
}

// UserID returns the subject authenticated for c.
func UserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyUserID)
	return id, id != ""
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimPrefix(h, bearerPrefix)
	}

	cookie, err := r.Cookie(AccessTokenCookieName)
	if err != nil {
		return ""
	}
	v, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return cookie.Value
	}

	return v
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}
