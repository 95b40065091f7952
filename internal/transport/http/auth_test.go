package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chat-realtime/internal/domain"
	"github.com/example/chat-realtime/internal/presence"
	authservice "github.com/example/chat-realtime/internal/service/auth"
	"github.com/example/chat-realtime/internal/transport/http/middleware"
	"github.com/example/chat-realtime/pkg/auth"
)

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]*domain.User),
	}
}

func (f *fakeUsers) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[userID], nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byEmail[email], nil
}

func (f *fakeUsers) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[userID]; ok {
		return &domain.Profile{ID: u.ID, Name: u.Name, Image: u.Image}, nil
	}
	return nil, nil
}

func (f *fakeUsers) Create(ctx context.Context, name, email, passwordHash string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Role:         "user",
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	f.byID[user.ID] = user
	f.byEmail[user.Email] = user
	return user, nil
}

func (f *fakeUsers) FindOrCreateOAuth(ctx context.Context, email, name, image, provider, providerID string) (*domain.User, error) {
	f.mu.Lock()
	user, ok := f.byEmail[email]
	f.mu.Unlock()
	if ok {
		return user, nil
	}
	return f.Create(ctx, name, email, "")
}

type noopDisconnector struct {
	mu    sync.Mutex
	users []string
}

func (n *noopDisconnector) DisconnectUser(userID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
}

type authFixture struct {
	engine  *gin.Engine
	users   *fakeUsers
	store   *presence.MemoryStore
	tokens  *auth.Manager
	conns   *noopDisconnector
	handler *AuthHandler
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := newFakeUsers()
	store := presence.NewMemoryStore()
	tokens := auth.NewManager("http-test-secret", 15*time.Minute, 24*time.Hour)
	conns := &noopDisconnector{}
	handler := NewAuthHandler(users, store, tokens, conns, false)
	validator := authservice.NewValidator(tokens, store)

	engine := gin.New()
	engine.POST("/api/auth/register", handler.Register)
	engine.POST("/api/auth/login", handler.Login)
	engine.POST("/api/auth/refresh", handler.Refresh)

	protected := engine.Group("/")
	protected.Use(middleware.AuthMiddleware(validator))
	protected.POST("/api/auth/logout", handler.Logout)
	protected.GET("/api/auth/me", handler.Me)

	return &authFixture{
		engine:  engine,
		users:   users,
		store:   store,
		tokens:  tokens,
		conns:   conns,
		handler: handler,
	}
}

func (f *authFixture) post(t *testing.T, path string, body gin.H, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeTokens(t *testing.T, rec *httptest.ResponseRecorder) (access, refresh string) {
	t.Helper()
	var resp struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken, resp.RefreshToken
}

func TestRegisterAndLogin(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.post(t, "/api/auth/register", gin.H{
		"name": "Test", "email": "T@Example.com", "password": "Str0ngpass",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	access, refresh := decodeTokens(t, rec)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)

	// Email is normalized on registration.
	rec = f.post(t, "/api/auth/login", gin.H{"email": "t@example.com", "password": "Str0ngpass"}, "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.post(t, "/api/auth/login", gin.H{"email": "t@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.post(t, "/api/auth/register", gin.H{
		"name": "Test", "email": "t@example.com", "password": "short",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)

	body := gin.H{"name": "Test", "email": "t@example.com", "password": "Str0ngpass"}
	require.Equal(t, http.StatusCreated, f.post(t, "/api/auth/register", body, "").Code)
	assert.Equal(t, http.StatusConflict, f.post(t, "/api/auth/register", body, "").Code)
}

func TestRefreshRotatesAndRevokesOldToken(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.post(t, "/api/auth/register", gin.H{
		"name": "Test", "email": "t@example.com", "password": "Str0ngpass",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	_, refresh := decodeTokens(t, rec)

	rec = f.post(t, "/api/auth/refresh", gin.H{"refreshToken": refresh}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	newAccess, newRefresh := decodeTokens(t, rec)
	assert.NotEmpty(t, newAccess)
	assert.NotEqual(t, refresh, newRefresh)

	// The rotated-out token is on the revocation list now.
	rec = f.post(t, "/api/auth/refresh", gin.H{"refreshToken": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The replacement still works.
	rec = f.post(t, "/api/auth/refresh", gin.H{"refreshToken": newRefresh}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutRevokesAccessTokenAndDisconnects(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.post(t, "/api/auth/register", gin.H{
		"name": "Test", "email": "t@example.com", "password": "Str0ngpass",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	access, refresh := decodeTokens(t, rec)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	me := httptest.NewRecorder()
	f.engine.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)

	rec = f.post(t, "/api/auth/logout", gin.H{"refreshToken": refresh}, access)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.conns.mu.Lock()
	assert.Len(t, f.conns.users, 1)
	f.conns.mu.Unlock()

	// The still-valid signature no longer authorizes anything.
	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	me = httptest.NewRecorder()
	f.engine.ServeHTTP(me, req)
	assert.Equal(t, http.StatusUnauthorized, me.Code)

	// So does the surrendered refresh token.
	rec = f.post(t, "/api/auth/refresh", gin.H{"refreshToken": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRouteWithoutToken(t *testing.T) {
	f := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
