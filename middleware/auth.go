package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"postvolve/config"
	"postvolve/logger"
	"postvolve/models"
	"postvolve/store"
)

const (
	CookieName = "postvolve_jwt"

	ctxUserID    = "userID"
	ctxUserEmail = "userEmail"
)

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	EnsureUser(ctx context.Context, id, email string) error
}

// Authenticator validates HS256 tokens. It accepts Supabase access tokens
// (subject in "sub") and tokens we mint at login (subject in "user_id").
type Authenticator struct {
	secret   []byte
	features config.Features
	users    UserStore

	// Supabase subjects already mirrored into users.
	known sync.Map
}

var ErrNoSecret = errors.New("JWT secret is required when auth is enabled")

func NewAuthenticator(secret string, features config.Features, users UserStore) (*Authenticator, error) {
	if features.AuthEnabled && secret == "" {
		return nil, ErrNoSecret
	}
	return &Authenticator{secret: []byte(secret), features: features, users: users}, nil
}

func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.features.AuthEnabled {
			a.injectSystemUser(c)
			c.Next()
			return
		}

		tokenString := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenString = strings.TrimPrefix(h, "Bearer ")
		}
		if tokenString == "" {
			if cookie, err := c.Cookie(CookieName); err == nil {
				tokenString = cookie
			}
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if len(a.secret) == 0 {
				return nil, ErrNoSecret
			}
			return a.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if errors.Is(err, jwt.ErrTokenExpired) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		email, _ := claims["email"].(string)
		userID, _ := claims["user_id"].(string)
		if userID == "" {
			sub, _ := claims["sub"].(string)
			if sub == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
				return
			}
			if err := a.ensureUser(c.Request.Context(), sub, email); err != nil {
				logger.Error("mirror supabase user", zap.String("user_id", sub), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
				return
			}
			userID = sub
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxUserEmail, email)
		c.Next()
	}
}

func (a *Authenticator) ensureUser(ctx context.Context, id, email string) error {
	if _, ok := a.known.Load(id); ok {
		return nil
	}
	if err := a.users.EnsureUser(ctx, id, email); err != nil {
		return err
	}
	a.known.Store(id, struct{}{})
	return nil
}

func (a *Authenticator) injectSystemUser(c *gin.Context) {
	u, err := a.users.GetUserByEmail(c.Request.Context(), store.SystemEmail)
	if err != nil {
		// Migrations not applied yet.
		c.Set(ctxUserID, "system-placeholder")
	} else {
		c.Set(ctxUserID, u.ID)
	}
	c.Set(ctxUserEmail, store.SystemEmail)
}

// UserID returns the authenticated user's id.
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func UserEmail(c *gin.Context) string {
	return c.GetString(ctxUserEmail)
}
