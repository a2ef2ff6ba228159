package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/utils/auth"
	"github.com/sahilchouksey/campus-notes/utils/metrics"
	"github.com/sahilchouksey/campus-notes/utils/validation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidEmail        = errors.New("invalid email format")
	ErrEmailSuffix         = errors.New("email must use an institutional address")
	ErrDomainNotRecognized = errors.New("email domain is not recognized as a registered university")
	ErrUniversityInactive  = errors.New("university is not accepting registrations")
	ErrEmailTaken          = errors.New("email already registered")
)

// AdmissionError reports every admission check that failed for an email.
type AdmissionError struct {
	Email              string
	InvalidSyntax      bool
	SuffixRejected     bool
	DomainUnrecognized bool
	UniversityInactive bool
}

func (e *AdmissionError) Error() string {
	return e.primary().Error()
}

// primary picks the one error surfaced to the caller.
func (e *AdmissionError) primary() error {
	switch {
	case e.InvalidSyntax:
		return ErrInvalidEmail
	case e.SuffixRejected:
		return ErrEmailSuffix
	case e.DomainUnrecognized:
		return ErrDomainNotRecognized
	default:
		return ErrUniversityInactive
	}
}

// Is lets errors.Is match any failed check, not only the surfaced one.
func (e *AdmissionError) Is(target error) bool {
	switch target {
	case ErrInvalidEmail:
		return e.InvalidSyntax
	case ErrEmailSuffix:
		return e.SuffixRejected
	case ErrDomainNotRecognized:
		return e.DomainUnrecognized
	case ErrUniversityInactive:
		return e.UniversityInactive
	}
	return false
}

// RegisterInput is the payload for account creation.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// AdmissionService decides whether an email may create an account and provisions the user.
type AdmissionService struct {
	db         *gorm.DB
	resolver   *DomainResolver
	suffixes   []string
	validator  *validation.Validator
	bcryptCost int
}

// AdmissionOption tweaks an AdmissionService.
type AdmissionOption func(*AdmissionService)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) AdmissionOption {
	return func(s *AdmissionService) { s.bcryptCost = cost }
}

func NewAdmissionService(db *gorm.DB, resolver *DomainResolver, suffixes []string, opts ...AdmissionOption) *AdmissionService {
	normalized := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			normalized = append(normalized, s)
		}
	}
	svc := &AdmissionService{
		db:         db,
		resolver:   resolver,
		suffixes:   normalized,
		validator:  validation.NewValidator(),
		bcryptCost: auth.DefaultCost,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// hasInstitutionalSuffix applies the static suffix policy. No configured suffix means no policy.
func (s *AdmissionService) hasInstitutionalSuffix(email string) bool {
	if len(s.suffixes) == 0 {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(email))
	for _, suffix := range s.suffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// Admit runs the suffix policy and the resolver independently and returns the
// owning university when both pass and the university is active.
func (s *AdmissionService) Admit(email string) (model.University, error) {
	verdict := &AdmissionError{Email: email}

	if !validation.ValidateEmail(strings.TrimSpace(email)) {
		verdict.InvalidSyntax = true
		return model.University{}, verdict
	}

	verdict.SuffixRejected = !s.hasInstitutionalSuffix(email)

	university, found := s.resolver.Resolve(email)
	verdict.DomainUnrecognized = !found
	if found && !university.IsActive {
		verdict.UniversityInactive = true
	}

	if verdict.SuffixRejected || verdict.DomainUnrecognized || verdict.UniversityInactive {
		return model.University{}, verdict
	}
	return university, nil
}

// Register admits the email and creates the user with an incomplete profile.
func (s *AdmissionService) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Name = validation.SanitizeString(input.Name)

	if err := s.validator.ValidateStruct(input); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if ok, problems := validation.ValidatePassword(input.Password); !ok {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, validation.FieldErrors{"password": problems[0]}
	}

	university, err := s.Admit(input.Email)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
		log.Infow("[ADMISSION] registration rejected", "email", input.Email, "reason", err.Error())
		return nil, err
	}

	hash, err := auth.HashPasswordWithCost(input.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Email:            input.Email,
		Name:             input.Name,
		PasswordHash:     hash,
		Role:             model.RoleStudent,
		UniversityID:     &university.ID,
		ProfileCompleted: false,
		ProfileMeta:      datatypes.JSONMap{},
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.User{}).Unscoped().Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		return tx.Create(user).Error
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, gorm.ErrDuplicatedKey) {
			metrics.RegistrationsTotal.WithLabelValues("duplicate").Inc()
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	metrics.RegistrationsTotal.WithLabelValues("admitted").Inc()
	log.Infow("[ADMISSION] user registered", "user_id", user.ID, "university_id", university.ID)
	return user, nil
}
