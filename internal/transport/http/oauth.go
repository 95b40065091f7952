package http

import (
	"log"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/example/chat-realtime/internal/config"
	"github.com/example/chat-realtime/internal/domain"
	"github.com/example/chat-realtime/pkg/auth"
	"github.com/example/chat-realtime/pkg/httputil"
)

const oauthStateCookie = "oauth_state"

type OAuthHandler struct {
	Users         domain.UserService
	Tokens        *auth.Manager
	OAuth         *config.OAuthConfig
	FrontendURL   string
	SecureCookies bool
}

func NewOAuthHandler(users domain.UserService, tokens *auth.Manager, oauthCfg *config.OAuthConfig, frontendURL string, secureCookies bool) *OAuthHandler {
	return &OAuthHandler{
		Users:         users,
		Tokens:        tokens,
		OAuth:         oauthCfg,
		FrontendURL:   frontendURL,
		SecureCookies: secureCookies,
	}
}

// GoogleLogin redirects to Google's consent screen with a random state
// nonce pinned in a short-lived cookie.
func (h *OAuthHandler) GoogleLogin(c *gin.Context) {
	state := auth.GenerateTokenID()
	c.SetCookie(oauthStateCookie, state, 300, "/", "", h.SecureCookies, true)

	url := h.OAuth.GoogleLoginConfig.AuthCodeURL(state)
	c.Redirect(http.StatusTemporaryRedirect, url)
}

// GoogleCallback exchanges the authorization code, resolves the Google
// account to a local user and hands the token pair to the frontend.
func (h *OAuthHandler) GoogleCallback(c *gin.Context) {
	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || c.Query("state") != state {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OAuth state"})
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", h.SecureCookies, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing authorization code"})
		return
	}

	token, err := h.OAuth.GoogleLoginConfig.Exchange(c.Request.Context(), code)
	if err != nil {
		log.Printf("[OAUTH] Code exchange failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "OAuth exchange failed"})
		return
	}

	googleUser, err := config.GetGoogleUserInfo(token.AccessToken)
	if err != nil {
		log.Printf("[OAUTH] Userinfo fetch failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Failed to fetch user info"})
		return
	}
	if !googleUser.VerifiedEmail {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Google email not verified"})
		return
	}

	user, err := h.Users.FindOrCreateOAuth(c.Request.Context(), googleUser.Email, googleUser.Name, googleUser.Picture, "google", googleUser.ID)
	if err != nil {
		log.Printf("[OAUTH] Failed to resolve user %s: %v", googleUser.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve user"})
		return
	}

	accessToken, err := h.Tokens.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	refreshToken, err := h.Tokens.GenerateRefreshToken(user.ID, auth.GenerateTokenID())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	httputil.SetAuthCookie(c.Writer, accessToken, int(h.Tokens.AccessTTL().Seconds()), h.SecureCookies)

	redirect := h.FrontendURL + "/auth/callback?" + url.Values{
		"access_token":  {accessToken},
		"refresh_token": {refreshToken},
	}.Encode()
	c.Redirect(http.StatusTemporaryRedirect, redirect)
}
