// Package auth handles registration, login and token validation. Tokens are
// HS256 JWTs; logout puts the token ID on a Redis denylist until expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apierrors "github.com/tangle-social/backend/internal/errors"
	"github.com/tangle-social/backend/internal/models"
	"github.com/tangle-social/backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUsernameExists     = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Denylist stores revoked token IDs until their natural expiry.
// cache.RedisClient and cache.Memory both satisfy it.
type Denylist interface {
	SetEx(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Service handles all authentication operations
type Service struct {
	users     repository.UserRepository
	jwtSecret []byte
	tokenTTL  time.Duration
	denylist  Denylist
}

func NewService(users repository.UserRepository, jwtSecret []byte, tokenTTL time.Duration, denylist Denylist) *Service {
	return &Service{
		users:     users,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		denylist:  denylist,
	}
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	Token     string       `json:"token"`
	User      *models.User `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// RegisterRequest is the native registration payload
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Username    string `json:"username" binding:"required,min=3,max=30"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name" binding:"required,min=1,max=50"`
}

// LoginRequest is the native login payload
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register creates a new user with email/password credentials
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if _, err := s.users.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrUserExists
	} else if err != repository.ErrUserNotFound {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if _, err := s.users.GetUserByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameExists
	} else if err != repository.ErrUserNotFound {
		return nil, fmt.Errorf("database error: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	hashStr := string(hash)

	user := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Username:     strings.TrimSpace(req.Username),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: &hashStr,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return s.issue(user)
}

// Login authenticates email/password credentials
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// Logout revokes the token by denylisting its ID for the remaining lifetime
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		return apierrors.Unauthorized("invalid token")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return apierrors.Unauthorized("invalid token")
	}

	ttl := s.tokenTTL
	if exp, ok := claims["exp"].(float64); ok {
		if remaining := time.Until(time.Unix(int64(exp), 0)); remaining > 0 {
			ttl = remaining
		}
	}
	return s.denylist.SetEx(ctx, denyKey(jti), "revoked", ttl)
}

// ValidateToken checks signature, expiry and the denylist, then loads the
// current user record
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*models.User, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, apierrors.Unauthorized("invalid token")
	}

	if jti, _ := claims["jti"].(string); jti != "" {
		if _, err := s.denylist.Get(ctx, denyKey(jti)); err == nil {
			return nil, apierrors.Unauthorized("token revoked")
		}
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return nil, apierrors.Unauthorized("invalid token claims")
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, apierrors.Unauthorized("user not found")
	}
	return user, nil
}

// issue creates the JWT and auth response for a user
func (s *Service) issue(user *models.User) (*AuthResponse, error) {
	expiresAt := time.Now().Add(s.tokenTTL)

	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"email":    user.Email,
		"username": user.Username,
		"jti":      uuid.New().String(),
		"exp":      expiresAt.Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &AuthResponse{
		Token:     tokenString,
		User:      user,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func denyKey(jti string) string {
	return "auth:revoked:" + jti
}
