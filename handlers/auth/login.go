package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/utils/auth"
	"github.com/sahilchouksey/campus-notes/utils/response"
)

// LoginRequest represents a user login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"` // in seconds
	NextStep     string       `json:"next_step,omitempty"`
}

// Login handles user login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return response.BadRequest(c, "Email and password are required")
	}

	ctx := c.UserContext()
	ip := c.IP()

	var user model.User
	if err := h.db.WithContext(ctx).Preload("University").Preload("ProgramStudy").
		Where("email = ?", req.Email).First(&user).Error; err != nil {
		// Record failed attempt even if user not found
		h.bruteForceProtection.RecordFailedAttempt(ctx, ip)
		return response.Unauthorized(c, "Invalid email or password")
	}

	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		h.bruteForceProtection.RecordFailedAttempt(ctx, ip)
		return response.Unauthorized(c, "Invalid email or password")
	}

	// Clear failed attempts on successful login
	h.bruteForceProtection.RecordSuccessfulAttempt(ctx, ip)

	access, refresh, err := h.issueTokens(&user)
	if err != nil {
		return response.InternalServerError(c, "Failed to generate tokens")
	}

	res := LoginResponse{
		User:         toUserResponse(&user),
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		ExpiresIn:    int(h.jwtManager.AccessTTL().Seconds()),
	}
	if !user.ProfileCompleted {
		res.NextStep = h.completionPath
	}
	return response.Success(c, res)
}
