// Package http holds the thin HTTP adapters around the transport core:
// credential issuance (login, refresh, OAuth), logout-driven revocation
// and the health seam.
package http

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/chat-realtime/internal/domain"
	"github.com/example/chat-realtime/internal/presence"
	"github.com/example/chat-realtime/internal/transport/http/middleware"
	"github.com/example/chat-realtime/pkg/auth"
	"github.com/example/chat-realtime/pkg/httputil"
)

// Disconnector closes every live connection of a user; satisfied by the
// connection registry.
type Disconnector interface {
	DisconnectUser(userID, reason string)
}

type AuthHandler struct {
	Users         domain.UserService
	Store         presence.Store
	Tokens        *auth.Manager
	Conns         Disconnector
	SecureCookies bool
}

func NewAuthHandler(users domain.UserService, store presence.Store, tokens *auth.Manager, conns Disconnector, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		Users:         users,
		Store:         store,
		Tokens:        tokens,
		Conns:         conns,
		SecureCookies: secureCookies,
	}
}

func (h *AuthHandler) issueTokenPair(user *domain.User) (accessToken, refreshToken string, err error) {
	accessToken, err = h.Tokens.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = h.Tokens.GenerateRefreshToken(user.ID, auth.GenerateTokenID())
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func userResponse(u *domain.User) gin.H {
	return gin.H{
		"id":    u.ID,
		"name":  u.Name,
		"email": u.Email,
		"image": u.Image,
		"role":  u.Role,
	}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required"})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email format"})
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.Users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	user, err := h.Users.Create(c.Request.Context(), req.Name, req.Email, hashed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	accessToken, refreshToken, err := h.issueTokenPair(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate tokens"})
		return
	}

	httputil.SetAuthCookie(c.Writer, accessToken, int(h.Tokens.AccessTTL().Seconds()), h.SecureCookies)
	c.JSON(http.StatusCreated, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"user":         userResponse(user),
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	user, err := h.Users.GetByEmail(c.Request.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	accessToken, refreshToken, err := h.issueTokenPair(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate tokens"})
		return
	}

	httputil.SetAuthCookie(c.Writer, accessToken, int(h.Tokens.AccessTTL().Seconds()), h.SecureCookies)
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"user":         userResponse(user),
	})
}

// Logout revokes the presented credentials and tears down the user's live
// connections. The access token hash goes on the blacklist for its full
// lifetime, so a still-valid signature no longer authorizes anything.
func (h *AuthHandler) Logout(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if token, err := httputil.GetTokenFromRequest(c.Request); err == nil {
		if err := h.Store.Blacklist(c.Request.Context(), auth.HashToken(token), h.Tokens.AccessTTL()); err != nil {
			log.Printf("[AUTH] Failed to blacklist access token for user %s: %v", identity.UserID, err)
		}
	}

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		if err := h.Store.Blacklist(c.Request.Context(), auth.HashToken(req.RefreshToken), h.Tokens.RefreshTTL()); err != nil {
			log.Printf("[AUTH] Failed to blacklist refresh token for user %s: %v", identity.UserID, err)
		}
	}

	h.Conns.DisconnectUser(identity.UserID, "Logged out")
	if err := h.Store.SetStatus(context.Background(), identity.UserID, domain.StatusOffline); err != nil {
		log.Printf("[AUTH] Failed to mark user %s offline: %v", identity.UserID, err)
	}

	httputil.ClearAuthCookie(c.Writer)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Refresh rotates the token pair. The old refresh token's hash is
// blacklisted for its remaining lifetime so it cannot be replayed.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refreshToken is required"})
		return
	}

	revoked, err := h.Store.IsBlacklisted(c.Request.Context(), auth.HashToken(req.RefreshToken))
	if err == nil && revoked {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Refresh token revoked"})
		return
	}

	claims, err := h.Tokens.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}

	user, err := h.Users.GetByID(c.Request.Context(), claims.UserID)
	if err != nil || user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown user"})
		return
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl > 0 {
		if err := h.Store.Blacklist(c.Request.Context(), auth.HashToken(req.RefreshToken), ttl); err != nil {
			log.Printf("[AUTH] Failed to blacklist rotated refresh token: %v", err)
		}
	}

	accessToken, refreshToken, err := h.issueTokenPair(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate tokens"})
		return
	}

	httputil.SetAuthCookie(c.Writer, accessToken, int(h.Tokens.AccessTTL().Seconds()), h.SecureCookies)
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	user, err := h.Users.GetByID(c.Request.Context(), identity.UserID)
	if err != nil || user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userResponse(user)})
}
