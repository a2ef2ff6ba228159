package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Token kinds carried in Claims.TokenType
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	Expiry        time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

// Claims represents JWT claims
type Claims struct {
	UserID       uint   `json:"user_id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	TokenType    string `json:"token_type"`
	TokenVersion int    `json:"token_version"` // must match users.token_version
	jwt.RegisteredClaims
}

// IssuedToken is a signed token together with its id and expiry.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// JWTManager handles JWT token operations
type JWTManager struct {
	config JWTConfig
}

func NewJWTManager(config JWTConfig) *JWTManager {
	if config.Expiry == 0 {
		config.Expiry = 15 * time.Minute
	}
	if config.RefreshExpiry == 0 {
		config.RefreshExpiry = 7 * 24 * time.Hour
	}
	return &JWTManager{config: config}
}

// AccessTTL is used by handlers to report expires_in.
func (j *JWTManager) AccessTTL() time.Duration {
	return j.config.Expiry
}

func (j *JWTManager) GenerateAccessToken(userID uint, email, role string, tokenVersion int) (IssuedToken, error) {
	return j.sign(TokenTypeAccess, j.config.Expiry, userID, email, role, tokenVersion)
}

func (j *JWTManager) GenerateRefreshToken(userID uint, email, role string, tokenVersion int) (IssuedToken, error) {
	return j.sign(TokenTypeRefresh, j.config.RefreshExpiry, userID, email, role, tokenVersion)
}

func (j *JWTManager) sign(kind string, ttl time.Duration, userID uint, email, role string, tokenVersion int) (IssuedToken, error) {
	now := time.Now()
	issued := IssuedToken{JTI: uuid.NewString(), ExpiresAt: now.Add(ttl)}

	claims := Claims{
		UserID:       userID,
		Email:        email,
		Role:         role,
		TokenType:    kind,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        issued.JTI,
			ExpiresAt: jwt.NewNumericDate(issued.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
			Subject:   email,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.config.Secret))
	if err != nil {
		return IssuedToken{}, err
	}
	issued.Token = signed
	return issued, nil
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(j.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// ValidateRefreshToken validates the token and insists on the refresh kind.
func (j *JWTManager) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
