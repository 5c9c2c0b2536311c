// internal/auth/auth.go
//
// Session handling: a one-time session_id from the OAuth broker is
// exchanged for a week-long session token, carried in an httpOnly
// cookie or a bearer header.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"flipcut/internal/models"
	"flipcut/internal/storage"
)

const (
	CookieName  = "session_token"
	sessionTTL  = 7 * 24 * time.Hour
	userCtxKey  = "flipcut_user"
	brokerLimit = 30 * time.Second
)

var ErrNotAuthenticated = errors.New("not authenticated")

// SessionStore is the slice of storage auth needs.
type SessionStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	ReplaceSession(ctx context.Context, sess *models.UserSession) error
	GetSession(ctx context.Context, token string) (*models.UserSession, error)
	DeleteSession(ctx context.Context, token string) error
}

type Service struct {
	store     SessionStore
	brokerURL string
	http      *http.Client
}

func NewService(store SessionStore, brokerURL string) *Service {
	return &Service{
		store:     store,
		brokerURL: brokerURL,
		http:      &http.Client{Timeout: brokerLimit},
	}
}

// brokerData is what the OAuth broker returns for a valid session id.
type brokerData struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Picture      string `json:"picture"`
	SessionToken string `json:"session_token"`
}

// BrokerError carries the broker's status through to the HTTP layer.
type BrokerError struct {
	Status  int
	Message string
}

func (e *BrokerError) Error() string { return e.Message }

// ExchangeSession validates the broker session id, finds or creates the
// user by email and installs a fresh session. Returns the user and the
// session token to set as a cookie.
func (s *Service) ExchangeSession(ctx context.Context, sessionID string) (*models.User, string, error) {
	const op = "auth.ExchangeSession"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.brokerURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %v", op, err)
	}
	req.Header.Set("X-Session-ID", sessionID)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", &BrokerError{Status: http.StatusInternalServerError, Message: "Authentication service error"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &BrokerError{Status: http.StatusUnauthorized, Message: "Invalid session_id"}
	}

	var data brokerData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil || data.Email == "" {
		return nil, "", &BrokerError{Status: http.StatusUnauthorized, Message: "Invalid session_id"}
	}

	user, err := s.store.GetUserByEmail(ctx, data.Email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, "", fmt.Errorf("%s: %v", op, err)
		}
		user = &models.User{
			UserID:    models.NewUserID(),
			Email:     data.Email,
			Name:      data.Name,
			Picture:   data.Picture,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("%s: %v", op, err)
		}
	}

	token := data.SessionToken
	if token == "" {
		token = models.NewSessionToken()
	}
	sess := &models.UserSession{
		SessionToken: token,
		UserID:       user.UserID,
		ExpiresAt:    time.Now().UTC().Add(sessionTTL),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.ReplaceSession(ctx, sess); err != nil {
		return nil, "", fmt.Errorf("%s: %v", op, err)
	}
	return user, token, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, token)
}

// TokenFromRequest prefers the session cookie, falling back to a
// bearer header.
func TokenFromRequest(c *gin.Context) string {
	if token, err := c.Cookie(CookieName); err == nil && token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// CurrentUser resolves the request's token to a user, or
// ErrNotAuthenticated.
func (s *Service) CurrentUser(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		log.Printf("auth.CurrentUser: %v", err)
		return nil, ErrNotAuthenticated
	}
	if sess.ExpiresAt.Before(time.Now()) {
		return nil, ErrNotAuthenticated
	}
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, ErrNotAuthenticated
	}
	return user, nil
}

// RequireAuth aborts with 401 unless the request carries a live
// session. The resolved user lands in the gin context.
func (s *Service) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.CurrentUser(c.Request.Context(), TokenFromRequest(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		c.Set(userCtxKey, user)
		c.Next()
	}
}

// UserFrom returns the authenticated user set by RequireAuth.
func UserFrom(c *gin.Context) *models.User {
	v, ok := c.Get(userCtxKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
