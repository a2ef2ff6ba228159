package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/sahilchouksey/campus-notes/utils/flash"
	"github.com/sahilchouksey/campus-notes/utils/middleware"
	"github.com/sahilchouksey/campus-notes/utils/response"
	"github.com/sahilchouksey/campus-notes/utils/validation"
)

// ProfileResponse wraps the user with any pending flash message.
type ProfileResponse struct {
	User  UserResponse   `json:"user"`
	Flash *flash.Message `json:"flash,omitempty"`
}

// GetProfile retrieves the current user's profile
func (h *AuthHandler) GetProfile(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}

	user, err := h.profiles.Get(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			return response.NotFound(c, "User not found")
		}
		return response.InternalServerError(c, "Failed to load profile")
	}

	res := ProfileResponse{User: toUserResponse(user)}
	if msg, ok := flash.Pop(c); ok {
		res.Flash = &msg
	}
	return response.Success(c, res)
}

// UpdateProfile applies a partial profile update. Sending program_study_id and
// cohort_year together completes the profile.
func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}

	var req services.ProfileInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	user, err := h.profiles.Update(c.UserContext(), userID, req)
	if err != nil {
		var fields validation.FieldErrors
		switch {
		case errors.As(err, &fields):
			return response.FieldErrors(c, fields)
		case errors.Is(err, services.ErrUserNotFound):
			return response.NotFound(c, "User not found")
		default:
			log.Errorw("[PROFILE] update failed", "user_id", userID, "error", err)
			return response.InternalServerError(c, "Failed to update profile")
		}
	}

	return response.SuccessWithMessage(c, "Profile updated", ProfileResponse{User: toUserResponse(user)})
}
