// Package auth implements user signup, login and the refresh-token
// rotation chain.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/crypto"
)

// refreshTokenTTL bounds how long a refresh token stays redeemable.
const refreshTokenTTL = 30 * 24 * time.Hour

// Claims is the access-token payload.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Service issues and rotates credentials.
type Service struct {
	users   out.UserRepository
	refresh out.RefreshTokenRepository
	secret  []byte
	expiry  time.Duration
	now     func() time.Time
}

func NewService(users out.UserRepository, refresh out.RefreshTokenRepository, jwtSecret string, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Service{
		users:   users,
		refresh: refresh,
		secret:  []byte(jwtSecret),
		expiry:  expiry,
		now:     time.Now,
	}
}

// Signup registers a user and signs them in.
func (s *Service) Signup(ctx context.Context, email, password string) (*domain.User, *TokenPair, error) {
	if email == "" {
		return nil, nil, apperr.MissingField("email")
	}
	if len(password) < 8 {
		return nil, nil, apperr.BadRequest("password must be at least 8 characters")
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: &hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login verifies the password and issues a fresh token pair. The error is
// identical for an unknown email and a wrong password.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, *TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, nil, apperr.Unauthorized("invalid email or password")
		}
		return nil, nil, err
	}
	if user.PasswordHash == nil {
		return nil, nil, apperr.Unauthorized("invalid email or password")
	}

	ok, err := crypto.VerifyPassword(password, *user.PasswordHash)
	if err != nil || !ok {
		return nil, nil, apperr.Unauthorized("invalid email or password")
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh rotates a refresh token. A reused token means the chain leaked;
// every token of the user is revoked and the caller must log in again.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	stored, err := s.refresh.GetByHash(ctx, hashToken(refreshToken))
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, apperr.Unauthorized("invalid refresh token")
		}
		return nil, err
	}

	if !stored.Active(s.now()) {
		// Reuse of a rotated or revoked token: burn the whole chain.
		if rerr := s.refresh.RevokeAllForUser(ctx, stored.UserID); rerr != nil {
			return nil, rerr
		}
		return nil, apperr.Unauthorized("refresh token reuse detected")
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}

	plaintext, next, err := s.newRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Rotate(ctx, stored.ID, next); err != nil {
		return nil, err
	}

	access, expiresAt, err := s.signAccessToken(user)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: plaintext, ExpiresAt: expiresAt}, nil
}

// Logout revokes every refresh token of the user.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.refresh.RevokeAllForUser(ctx, userID)
}

// ParseAccessToken validates a bearer token and returns its claims.
func (s *Service) ParseAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.InvalidToken("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, apperr.InvalidToken("invalid or expired token")
	}
	return claims, nil
}

func (s *Service) issuePair(ctx context.Context, user *domain.User) (*TokenPair, error) {
	access, expiresAt, err := s.signAccessToken(user)
	if err != nil {
		return nil, err
	}

	plaintext, stored, err := s.newRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Create(ctx, stored); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: plaintext, ExpiresAt: expiresAt}, nil
}

func (s *Service) signAccessToken(user *domain.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(err, apperr.CodeInternalError, "failed to sign token", 500)
	}
	return signed, expiresAt, nil
}

// newRefreshToken mints an opaque token. Only the hash is stored.
func (s *Service) newRefreshToken(userID uuid.UUID) (string, *domain.RefreshToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, apperr.Wrap(err, apperr.CodeInternalError, "failed to generate token", 500)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	token := &domain.RefreshToken{
		ID:        uuid.New(),
		Hash:      hashToken(plaintext),
		UserID:    userID,
		ExpiresAt: s.now().Add(refreshTokenTTL),
	}
	return plaintext, token, nil
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
