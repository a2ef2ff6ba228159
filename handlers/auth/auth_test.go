package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/campus-notes/database/dbtest"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/services"
	authutil "github.com/sahilchouksey/campus-notes/utils/auth"
	"github.com/sahilchouksey/campus-notes/utils/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type authFixture struct {
	app     *fiber.App
	program model.ProgramStudy
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	db := dbtest.Open(t)
	uni := dbtest.CreateUniversity(t, db, "Universitas Indonesia", "ui.ac.id", "cs.ui.ac.id")
	dbtest.CreateUniversity(t, db, "Institut Teknologi Bandung", "itb.ac.id")
	program := dbtest.CreateProgram(t, db, uni, "Ilmu Komputer")

	resolver := services.NewDomainResolver(db)
	require.NoError(t, resolver.Reload(t.Context()))

	jwt := authutil.NewJWTManager(authutil.JWTConfig{Secret: "test-secret", Issuer: "campus-notes-test"})
	h := NewAuthHandler(db, jwt, middleware.NewBruteForceProtection(nil),
		services.NewAdmissionService(db, resolver, []string{".ac.id"}, services.WithBcryptCost(bcrypt.MinCost)),
		services.NewProfileService(db, resolver),
		"/profile/complete")
	authMiddleware := middleware.NewAuthMiddleware(jwt, db)

	app := fiber.New()
	app.Post("/auth/register", h.Register)
	app.Post("/auth/login", h.Login)
	app.Post("/auth/refresh", h.RefreshToken)
	app.Post("/auth/logout", authMiddleware.Required(), h.Logout)
	app.Get("/profile", authMiddleware.Required(), h.GetProfile)
	app.Put("/profile", authMiddleware.Required(), h.UpdateProfile)
	return authFixture{app: app, program: program}
}

type result struct {
	status int
	body   struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Fields  map[string]string `json:"fields"`
		} `json:"error"`
	}
}

func (f authFixture) call(t *testing.T, method, path, token, body string) result {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)

	var r result
	r.status = resp.StatusCode
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r.body))
	return r
}

func (f authFixture) register(t *testing.T, email string) RegisterResponse {
	t.Helper()
	r := f.call(t, http.MethodPost, "/auth/register", "",
		`{"name": "Siti Rahma", "email": "`+email+`", "password": "rahasia-sekali"}`)
	require.Equal(t, fiber.StatusCreated, r.status)
	var res RegisterResponse
	require.NoError(t, json.Unmarshal(r.body.Data, &res))
	return res
}

func TestRegisterAdmitsAliasDomain(t *testing.T) {
	f := newAuthFixture(t)

	res := f.register(t, "Siti@CS.ui.ac.id")
	assert.Equal(t, "siti@cs.ui.ac.id", res.User.Email)
	assert.NotNil(t, res.User.UniversityID)
	assert.False(t, res.User.ProfileCompleted)
	assert.Equal(t, "/profile/complete", res.NextStep)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
}

func TestRegisterRejections(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "taken@ui.ac.id")

	tests := []struct {
		name   string
		email  string
		status int
	}{
		{"unknown campus", "someone@unknown.ac.id", fiber.StatusUnprocessableEntity},
		{"personal mailbox", "someone@gmail.com", fiber.StatusUnprocessableEntity},
		{"malformed", "not-an-email", fiber.StatusUnprocessableEntity},
		{"duplicate", "TAKEN@ui.ac.id", fiber.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := f.call(t, http.MethodPost, "/auth/register", "",
				`{"name": "Siti Rahma", "email": "`+tt.email+`", "password": "rahasia-sekali"}`)
			assert.Equal(t, tt.status, r.status)
			if tt.status == fiber.StatusUnprocessableEntity {
				require.NotNil(t, r.body.Error)
				assert.NotEmpty(t, r.body.Error.Fields["email"])
			}
		})
	}
}

func TestLoginAndRefreshRotation(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "budi@itb.ac.id")

	r := f.call(t, http.MethodPost, "/auth/login", "", `{"email": "budi@itb.ac.id", "password": "wrong-password"}`)
	assert.Equal(t, fiber.StatusUnauthorized, r.status)

	r = f.call(t, http.MethodPost, "/auth/login", "", `{"email": " BUDI@itb.ac.id", "password": "rahasia-sekali"}`)
	require.Equal(t, fiber.StatusOK, r.status)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(r.body.Data, &login))
	assert.Equal(t, "/profile/complete", login.NextStep)

	body := `{"refresh_token": "` + login.RefreshToken + `"}`
	r = f.call(t, http.MethodPost, "/auth/refresh", "", body)
	require.Equal(t, fiber.StatusOK, r.status)

	r = f.call(t, http.MethodPost, "/auth/refresh", "", body)
	assert.Equal(t, fiber.StatusUnauthorized, r.status, "a rotated refresh token cannot be reused")

	r = f.call(t, http.MethodPost, "/auth/refresh", "", `{"refresh_token": "`+login.AccessToken+`"}`)
	assert.Equal(t, fiber.StatusUnauthorized, r.status, "access tokens are not refresh tokens")
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	res := f.register(t, "ani@ui.ac.id")

	r := f.call(t, http.MethodPost, "/auth/logout", res.AccessToken, "")
	require.Equal(t, fiber.StatusOK, r.status)

	r = f.call(t, http.MethodGet, "/profile", res.AccessToken, "")
	assert.Equal(t, fiber.StatusUnauthorized, r.status)
}

func TestProfileCompletion(t *testing.T) {
	f := newAuthFixture(t)
	res := f.register(t, "dewi@ui.ac.id")

	r := f.call(t, http.MethodPut, "/profile", res.AccessToken, `{"cohort_year": 1800}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, r.status)

	update := `{"program_study_id": ` + strconv.FormatUint(uint64(f.program.ID), 10) + `, "cohort_year": 2023, "meta": {"semester": 3}}`
	r = f.call(t, http.MethodPut, "/profile", res.AccessToken, update)
	require.Equal(t, fiber.StatusOK, r.status)

	r = f.call(t, http.MethodGet, "/profile", res.AccessToken, "")
	require.Equal(t, fiber.StatusOK, r.status)
	var profile ProfileResponse
	require.NoError(t, json.Unmarshal(r.body.Data, &profile))
	assert.True(t, profile.User.ProfileCompleted)
	assert.NotNil(t, profile.User.ProfileCompletedAt)
	assert.EqualValues(t, 3, profile.User.ProfileMeta["semester"])
	assert.Nil(t, profile.Flash)
}
