package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/campus-notes/utils/flash"
	"github.com/sahilchouksey/campus-notes/utils/response"
)

// ProfileIncompleteMessage is shown both in the 409 body and in the redirect banner.
const ProfileIncompleteMessage = "Please complete your profile (program of study and cohort year) to continue."

// ProfileGateConfig configures RequireCompleteProfile.
type ProfileGateConfig struct {
	// RedirectPath is where interactive requests are sent, e.g. "/profile/complete".
	RedirectPath string
}

// RequireCompleteProfile blocks users whose profile is not completed yet.
// It must run after an auth middleware that stores the freshly loaded user in c.Locals.
// Requests without a user pass through untouched.
func RequireCompleteProfile(cfg ProfileGateConfig) fiber.Handler {
	redirectPath := cfg.RedirectPath
	if redirectPath == "" {
		redirectPath = "/profile/complete"
	}

	return func(c *fiber.Ctx) error {
		user, ok := GetUser(c)
		if !ok || user.ProfileCompleted {
			return c.Next()
		}

		if WantsJSON(c) {
			return response.Conflict(c, ProfileIncompleteMessage)
		}

		flash.Set(c, flash.Message{Text: ProfileIncompleteMessage, Style: flash.StyleWarning})
		return c.Redirect(redirectPath, fiber.StatusFound)
	}
}

// WantsJSON reports whether the caller expects a structured response rather than a page.
func WantsJSON(c *fiber.Ctx) bool {
	if strings.EqualFold(c.Get(fiber.HeaderXRequestedWith), "xmlhttprequest") {
		return true
	}
	for _, h := range []string{fiber.HeaderAccept, fiber.HeaderContentType} {
		if strings.Contains(strings.ToLower(c.Get(h)), "json") {
			return true
		}
	}
	return false
}
