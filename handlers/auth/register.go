package auth

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/services"
	authutil "github.com/sahilchouksey/campus-notes/utils/auth"
	"github.com/sahilchouksey/campus-notes/utils/middleware"
	"github.com/sahilchouksey/campus-notes/utils/response"
	"github.com/sahilchouksey/campus-notes/utils/validation"
	"gorm.io/gorm"
)

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	db                   *gorm.DB
	jwtManager           *authutil.JWTManager
	blacklistService     *authutil.BlacklistService
	bruteForceProtection *middleware.BruteForceProtection
	admission            *services.AdmissionService
	profiles             *services.ProfileService
	completionPath       string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	db *gorm.DB,
	jwtManager *authutil.JWTManager,
	bruteForceProtection *middleware.BruteForceProtection,
	admission *services.AdmissionService,
	profiles *services.ProfileService,
	completionPath string,
) *AuthHandler {
	return &AuthHandler{
		db:                   db,
		jwtManager:           jwtManager,
		blacklistService:     authutil.NewBlacklistService(db),
		bruteForceProtection: bruteForceProtection,
		admission:            admission,
		profiles:             profiles,
		completionPath:       completionPath,
	}
}

// RegisterResponse represents a successful registration response
type RegisterResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"` // in seconds
	// NextStep points an incomplete profile to the completion page.
	NextStep string `json:"next_step,omitempty"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID                 uint                   `json:"id"`
	Email              string                 `json:"email"`
	Name               string                 `json:"name"`
	Role               string                 `json:"role"`
	Avatar             string                 `json:"avatar,omitempty"`
	UniversityID       *uint                  `json:"university_id"`
	University         *model.University      `json:"university,omitempty"`
	ProgramStudyID     *uint                  `json:"program_study_id"`
	ProgramStudy       *model.ProgramStudy    `json:"program_study,omitempty"`
	CohortYear         *int                   `json:"cohort_year"`
	StudentNumber      string                 `json:"student_number,omitempty"`
	ProfileCompleted   bool                   `json:"profile_completed"`
	ProfileCompletedAt *time.Time             `json:"profile_completed_at,omitempty"`
	ProfileMeta        map[string]interface{} `json:"profile_meta"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

func toUserResponse(u *model.User) UserResponse {
	meta := map[string]interface{}(u.ProfileMeta)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return UserResponse{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		Role:               u.Role,
		Avatar:             u.Avatar,
		UniversityID:       u.UniversityID,
		University:         u.University,
		ProgramStudyID:     u.ProgramStudyID,
		ProgramStudy:       u.ProgramStudy,
		CohortYear:         u.CohortYear,
		StudentNumber:      u.StudentNumber,
		ProfileCompleted:   u.ProfileCompleted,
		ProfileCompletedAt: u.ProfileCompletedAt,
		ProfileMeta:        meta,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

// Register handles user registration
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req services.RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	user, err := h.admission.Register(c.UserContext(), req)
	if err != nil {
		return h.registrationError(c, err)
	}

	access, refresh, err := h.issueTokens(user)
	if err != nil {
		return response.InternalServerError(c, "Failed to generate tokens")
	}

	res := RegisterResponse{
		User:         toUserResponse(user),
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		ExpiresIn:    int(h.jwtManager.AccessTTL().Seconds()),
	}
	if !user.ProfileCompleted {
		res.NextStep = h.completionPath
	}
	return response.Created(c, res)
}

func (h *AuthHandler) registrationError(c *fiber.Ctx, err error) error {
	var fields validation.FieldErrors
	var verdict *services.AdmissionError
	switch {
	case errors.As(err, &fields):
		return response.FieldErrors(c, fields)
	case errors.As(err, &verdict):
		return response.FieldErrors(c, map[string]string{"email": verdict.Error()})
	case errors.Is(err, services.ErrEmailTaken):
		return response.Conflict(c, "User with this email already exists")
	default:
		log.Errorw("[AUTH] registration failed", "error", err)
		return response.InternalServerError(c, "Failed to create user")
	}
}

func (h *AuthHandler) issueTokens(user *model.User) (authutil.IssuedToken, authutil.IssuedToken, error) {
	access, err := h.jwtManager.GenerateAccessToken(user.ID, user.Email, user.Role, user.TokenVersion)
	if err != nil {
		return authutil.IssuedToken{}, authutil.IssuedToken{}, err
	}
	refresh, err := h.jwtManager.GenerateRefreshToken(user.ID, user.Email, user.Role, user.TokenVersion)
	if err != nil {
		return authutil.IssuedToken{}, authutil.IssuedToken{}, err
	}
	return access, refresh, nil
}
