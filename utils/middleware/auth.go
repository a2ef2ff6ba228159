package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/utils/auth"
	"github.com/sahilchouksey/campus-notes/utils/response"
	"gorm.io/gorm"
)

// Keys stored in c.Locals by the auth middleware
const (
	LocalUserID   = "user_id"
	LocalUser     = "user"
	LocalClaims   = "claims"
	LocalTokenJTI = "token_jti"
)

var (
	errMissingToken    = errors.New("Missing authorization token")
	errBadAuthFormat   = errors.New("Invalid authorization format")
	errWrongTokenType  = errors.New("Invalid token type")
	errTokenRevoked    = errors.New("Token has been revoked")
	errUserNotFound    = errors.New("User not found")
	errTokenSuperseded = errors.New("Token has been invalidated")
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	jwtManager       *auth.JWTManager
	blacklistService *auth.BlacklistService
	db               *gorm.DB
}

func NewAuthMiddleware(jwtManager *auth.JWTManager, db *gorm.DB) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager:       jwtManager,
		blacklistService: auth.NewBlacklistService(db),
		db:               db,
	}
}

// authenticate validates the bearer token and loads the user fresh from the
// database, so flags such as profile_completed are never stale.
func (m *AuthMiddleware) authenticate(c *fiber.Ctx) (*model.User, *auth.Claims, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return nil, nil, errMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, nil, errBadAuthFormat
	}

	claims, err := m.jwtManager.ValidateToken(parts[1])
	if err != nil {
		return nil, nil, err
	}
	if claims.TokenType != auth.TokenTypeAccess {
		return nil, nil, errWrongTokenType
	}

	revoked, err := m.blacklistService.IsTokenRevoked(c.UserContext(), claims.ID)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, errTokenRevoked
	}

	var user model.User
	if err := m.db.WithContext(c.UserContext()).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errUserNotFound
		}
		return nil, nil, err
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, nil, errTokenSuperseded
	}
	return &user, claims, nil
}

func setLocals(c *fiber.Ctx, user *model.User, claims *auth.Claims) {
	c.Locals(LocalUserID, user.ID)
	c.Locals(LocalUser, user)
	c.Locals(LocalClaims, claims)
	c.Locals(LocalTokenJTI, claims.ID)
}

func (m *AuthMiddleware) reject(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return response.Unauthorized(c, "Token has expired")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims):
		return response.Unauthorized(c, "Invalid token")
	case errors.Is(err, errMissingToken), errors.Is(err, errBadAuthFormat),
		errors.Is(err, errWrongTokenType), errors.Is(err, errTokenRevoked),
		errors.Is(err, errUserNotFound), errors.Is(err, errTokenSuperseded):
		return response.Unauthorized(c, err.Error())
	default:
		return response.InternalServerError(c, "Failed to authenticate request")
	}
}

// Required is middleware that requires a valid JWT token
func (m *AuthMiddleware) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, claims, err := m.authenticate(c)
		if err != nil {
			return m.reject(c, err)
		}
		setLocals(c, user, claims)
		return c.Next()
	}
}

// Optional attaches the user when a valid token is present and never rejects.
func (m *AuthMiddleware) Optional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if user, claims, err := m.authenticate(c); err == nil {
			setLocals(c, user, claims)
		}
		return c.Next()
	}
}

// RequireAdmin authenticates and checks the admin role from the database row.
func (m *AuthMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, claims, err := m.authenticate(c)
		if err != nil {
			return m.reject(c, err)
		}
		if !user.IsAdmin() {
			return response.Forbidden(c, "Admin access required")
		}
		setLocals(c, user, claims)
		return c.Next()
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(LocalUserID).(uint)
	return id, ok
}

// GetUser extracts full user object from context
func GetUser(c *fiber.Ctx) (*model.User, bool) {
	u, ok := c.Locals(LocalUser).(*model.User)
	return u, ok && u != nil
}

// GetClaims extracts full claims from context
func GetClaims(c *fiber.Ctx) (*auth.Claims, bool) {
	claims, ok := c.Locals(LocalClaims).(*auth.Claims)
	return claims, ok
}
