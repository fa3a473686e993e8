package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"postvolve/middleware"
	"postvolve/models"
	"postvolve/services"
)

const tokenTTL = 7 * 24 * time.Hour

type AuthInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

func (h *Handler) Signup(c *gin.Context) {
	var input AuthInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	user, err := h.store.CreateUser(c.Request.Context(), strings.ToLower(input.Email), string(hash))
	if errors.Is(err, models.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already exists"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.generateToken(user.ID, user.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	h.setAuthCookie(c, token)
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

func (h *Handler) Login(c *gin.Context) {
	var input AuthInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.store.GetUserByEmail(c.Request.Context(), strings.ToLower(input.Email))
	if err != nil || user.PasswordHash == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.generateToken(user.ID, user.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	h.setAuthCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(middleware.CookieName, "", -1, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *Handler) Me(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := h.store.GetUser(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	sub, err := h.store.GetSubscription(ctx, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":         user,
		"subscription": sub,
		"limits":       services.LimitsFor(sub.Plan),
	})
}

func (h *Handler) generateToken(id, email string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": id,
		"email":   email,
		"exp":     time.Now().Add(tokenTTL).Unix(),
	})
	return token.SignedString(h.jwtSecret)
}

func (h *Handler) setAuthCookie(c *gin.Context, token string) {
	c.SetCookie(middleware.CookieName, token, int(tokenTTL.Seconds()), "/", "", h.secure, true)
}
