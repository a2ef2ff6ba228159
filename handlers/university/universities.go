package university

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/sahilchouksey/campus-notes/utils/response"
	"github.com/sahilchouksey/campus-notes/utils/validation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UniversityHandler handles university-related requests
type UniversityHandler struct {
	db        *gorm.DB
	resolver  *services.DomainResolver
	validator *validation.Validator
}

// NewUniversityHandler creates a new university handler
func NewUniversityHandler(db *gorm.DB, resolver *services.DomainResolver) *UniversityHandler {
	return &UniversityHandler{
		db:        db,
		resolver:  resolver,
		validator: validation.NewValidator(),
	}
}

// CreateUniversityRequest represents the request body for creating a university
type CreateUniversityRequest struct {
	Name          string   `json:"name" validate:"required,min=3,max=255"`
	Slug          string   `json:"slug" validate:"omitempty,max=150"`
	Abbreviation  string   `json:"abbreviation" validate:"omitempty,max=30"`
	City          string   `json:"city" validate:"omitempty,max=100"`
	Domain        string   `json:"domain" validate:"required,fqdn,max=255"`
	DomainAliases []string `json:"domain_aliases" validate:"omitempty,max=20,dive,fqdn"`
	IsActive      *bool    `json:"is_active"`
}

// UpdateUniversityRequest represents the request body for updating a university
type UpdateUniversityRequest struct {
	Name          *string  `json:"name" validate:"omitempty,min=3,max=255"`
	Abbreviation  *string  `json:"abbreviation" validate:"omitempty,max=30"`
	City          *string  `json:"city" validate:"omitempty,max=100"`
	Domain        *string  `json:"domain" validate:"omitempty,fqdn,max=255"`
	DomainAliases []string `json:"domain_aliases" validate:"omitempty,max=20,dive,fqdn"`
	IsActive      *bool    `json:"is_active"`
}

// CreateProgramRequest represents the request body for adding a program of study
type CreateProgramRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Jenjang  string `json:"jenjang" validate:"omitempty,oneof=D3 D4 S1 S2 S3"`
	IsActive *bool  `json:"is_active"`
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func parseID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ListUniversities handles GET /api/v1/universities
func (h *UniversityHandler) ListUniversities(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	search := strings.ToLower(strings.TrimSpace(c.Query("search")))

	query := h.db.WithContext(c.UserContext()).Model(&model.University{})
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(abbreviation) LIKE ? OR LOWER(domain) LIKE ?", like, like, like)
	}
	switch c.Query("is_active") {
	case "true":
		query = query.Where("is_active = ?", true)
	case "false":
		query = query.Where("is_active = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return response.InternalServerError(c, "Failed to count universities")
	}

	var universities []model.University
	if err := query.Order("name ASC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&universities).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch universities")
	}

	return response.Paginated(c, universities, response.CalculatePagination(page, limit, total))
}

// GetUniversity handles GET /api/v1/universities/:id
func (h *UniversityHandler) GetUniversity(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return response.BadRequest(c, "Invalid university ID")
	}

	var university model.University
	err := h.db.WithContext(c.UserContext()).
		Preload("ProgramStudies", "is_active = ?", true).
		First(&university, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "University not found")
		}
		return response.InternalServerError(c, "Failed to fetch university")
	}

	return response.Success(c, university)
}

// ListPrograms handles GET /api/v1/universities/:id/programs
func (h *UniversityHandler) ListPrograms(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return response.BadRequest(c, "Invalid university ID")
	}

	var programs []model.ProgramStudy
	if err := h.db.WithContext(c.UserContext()).
		Where("university_id = ? AND is_active = ?", id, true).
		Order("name ASC").
		Find(&programs).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch programs")
	}
	return response.Success(c, programs)
}

// ResolveDomain handles GET /api/v1/universities/resolve?email=
// Registration forms use it to show which campus an address belongs to.
func (h *UniversityHandler) ResolveDomain(c *fiber.Ctx) error {
	email := c.Query("email")
	if strings.TrimSpace(email) == "" {
		return response.BadRequest(c, "email query parameter is required")
	}

	university, found := h.resolver.Resolve(email)
	if !found {
		return response.NotFound(c, services.ErrDomainNotRecognized.Error())
	}
	return response.Success(c, fiber.Map{
		"university":         university,
		"accepting_students": university.IsActive,
	})
}

// CreateUniversity handles POST /api/v1/universities
func (h *UniversityHandler) CreateUniversity(c *fiber.Ctx) error {
	var req CreateUniversityRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return h.validationError(c, err)
	}

	university := model.University{
		Name:          validation.SanitizeString(req.Name),
		Slug:          slugify(req.Slug),
		Abbreviation:  validation.SanitizeString(req.Abbreviation),
		City:          validation.SanitizeString(req.City),
		Domain:        services.NormalizeDomain(req.Domain),
		DomainAliases: datatypes.JSONSlice[string](services.NormalizeDomainList(req.DomainAliases)),
		IsActive:      true,
	}
	if university.Slug == "" {
		university.Slug = slugify(university.Name)
	}

	ctx := c.UserContext()
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := h.resolver.CheckCandidate(ctx, tx, university); err != nil {
			return err
		}
		if err := tx.Create(&university).Error; err != nil {
			return err
		}
		// is_active has a column default, so false must be written explicitly
		if req.IsActive != nil && !*req.IsActive {
			university.IsActive = false
			return tx.Model(&university).Update("is_active", false).Error
		}
		return nil
	})
	if err != nil {
		return h.writeError(c, err, "create university")
	}

	h.reloadIndex(c)
	return response.Created(c, university)
}

// UpdateUniversity handles PUT /api/v1/universities/:id
func (h *UniversityHandler) UpdateUniversity(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return response.BadRequest(c, "Invalid university ID")
	}

	var req UpdateUniversityRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return h.validationError(c, err)
	}

	ctx := c.UserContext()
	var university model.University
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&university, id).Error; err != nil {
			return err
		}
		if req.Name != nil {
			university.Name = validation.SanitizeString(*req.Name)
		}
		if req.Abbreviation != nil {
			university.Abbreviation = validation.SanitizeString(*req.Abbreviation)
		}
		if req.City != nil {
			university.City = validation.SanitizeString(*req.City)
		}
		if req.Domain != nil {
			university.Domain = services.NormalizeDomain(*req.Domain)
		}
		if req.DomainAliases != nil {
			university.DomainAliases = datatypes.JSONSlice[string](services.NormalizeDomainList(req.DomainAliases))
		}
		if req.IsActive != nil {
			university.IsActive = *req.IsActive
		}

		if err := h.resolver.CheckCandidate(ctx, tx, university); err != nil {
			return err
		}
		return tx.Save(&university).Error
	})
	if err != nil {
		return h.writeError(c, err, "update university")
	}

	h.reloadIndex(c)
	return response.SuccessWithMessage(c, "University updated successfully", university)
}

// CreateProgram handles POST /api/v1/universities/:id/programs
func (h *UniversityHandler) CreateProgram(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return response.BadRequest(c, "Invalid university ID")
	}

	var req CreateProgramRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return h.validationError(c, err)
	}

	var university model.University
	if err := h.db.WithContext(c.UserContext()).First(&university, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "University not found")
		}
		return response.InternalServerError(c, "Failed to fetch university")
	}

	program := model.ProgramStudy{
		UniversityID: university.ID,
		Name:         validation.SanitizeString(req.Name),
		Slug:         slugify(req.Name),
		Jenjang:      req.Jenjang,
		IsActive:     true,
	}
	err := h.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&program).Error; err != nil {
			return err
		}
		if req.IsActive != nil && !*req.IsActive {
			program.IsActive = false
			return tx.Model(&program).Update("is_active", false).Error
		}
		return nil
	})
	if err != nil {
		return response.InternalServerError(c, "Failed to create program")
	}
	return response.Created(c, program)
}

func (h *UniversityHandler) validationError(c *fiber.Ctx, err error) error {
	var fields validation.FieldErrors
	if errors.As(err, &fields) {
		return response.FieldErrors(c, fields)
	}
	return response.ValidationError(c, err)
}

func (h *UniversityHandler) writeError(c *fiber.Ctx, err error, action string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return response.NotFound(c, "University not found")
	case errors.Is(err, services.ErrDomainCollision):
		return response.Conflict(c, err.Error())
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return response.Conflict(c, "A university with this name or domain already exists")
	default:
		log.Errorw("[DOMAIN] university write failed", "action", action, "error", err)
		return response.InternalServerError(c, "Failed to "+action)
	}
}

// reloadIndex makes admin changes visible to registration immediately.
func (h *UniversityHandler) reloadIndex(c *fiber.Ctx) {
	if err := h.resolver.Reload(c.UserContext()); err != nil {
		log.Errorw("[DOMAIN] resolver reload after write failed", "error", err)
	}
}
