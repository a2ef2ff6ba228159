package flash

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetThenPop(t *testing.T) {
	app := fiber.New()
	app.Get("/set", func(c *fiber.Ctx) error {
		Set(c, Message{Text: "Profile saved, welcome!", Style: StyleSuccess})
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/pop", func(c *fiber.Ctx) error {
		msg, ok := Pop(c)
		if !ok {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.JSON(msg)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/set", nil))
	require.NoError(t, err)
	cookies := resp.Cookies()
	require.Len(t, cookies, 2)

	req := httptest.NewRequest(http.MethodGet, "/pop", nil)
	for _, ck := range cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var cleared int
	for _, ck := range resp.Cookies() {
		if ck.Value == "" {
			cleared++
		}
	}
	assert.Equal(t, 2, cleared)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/pop", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
