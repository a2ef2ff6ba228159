// Package flash carries one-shot banner messages across a redirect using cookies.
package flash

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	MessageCookie = "flash_message"
	StyleCookie   = "flash_style"
)

// Banner styles
const (
	StyleInfo    = "info"
	StyleSuccess = "success"
	StyleWarning = "warning"
	StyleDanger  = "danger"
)

// Message is a banner text plus its display style.
type Message struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

// Set stores a flash message for the next request.
func Set(c *fiber.Ctx, msg Message) {
	expires := time.Now().Add(5 * time.Minute)
	for name, value := range map[string]string{MessageCookie: msg.Text, StyleCookie: msg.Style} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    url.QueryEscape(value),
			Path:     "/",
			Expires:  expires,
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
}

// Pop returns the pending flash message, if any, and clears it.
func Pop(c *fiber.Ctx) (Message, bool) {
	raw := c.Cookies(MessageCookie)
	if raw == "" {
		return Message{}, false
	}
	text, err := url.QueryUnescape(raw)
	if err != nil {
		text = raw
	}
	style, err := url.QueryUnescape(c.Cookies(StyleCookie))
	if err != nil || style == "" {
		style = StyleInfo
	}
	c.ClearCookie(MessageCookie, StyleCookie)
	return Message{Text: text, Style: style}, true
}
