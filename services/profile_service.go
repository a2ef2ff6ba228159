package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/utils/validation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrProgramStudyNotFound = errors.New("program of study not found")
)

// MinCohortYear is the earliest accepted cohort (angkatan).
const MinCohortYear = 1950

// ProfileInput is a partial profile update. Nil fields are left untouched.
type ProfileInput struct {
	Name           *string                `json:"name" validate:"omitempty,min=2,max=100"`
	ProgramStudyID *uint                  `json:"program_study_id"`
	CohortYear     *int                   `json:"cohort_year"`
	StudentNumber  *string                `json:"student_number" validate:"omitempty,max=50"`
	Avatar         *string                `json:"avatar" validate:"omitempty,url,max=500"`
	Meta           map[string]interface{} `json:"meta"`
}

// completesProfile reports whether the update itself carries both required fields.
func (in ProfileInput) completesProfile() bool {
	return in.ProgramStudyID != nil && *in.ProgramStudyID != 0 &&
		in.CohortYear != nil && *in.CohortYear != 0
}

// ProfileService applies profile updates and drives the one-way completion flag.
type ProfileService struct {
	db        *gorm.DB
	resolver  *DomainResolver
	validator *validation.Validator
	now       func() time.Time
}

func NewProfileService(db *gorm.DB, resolver *DomainResolver) *ProfileService {
	return &ProfileService{
		db:        db,
		resolver:  resolver,
		validator: validation.NewValidator(),
		now:       time.Now,
	}
}

// Get loads a user with university and programme.
func (s *ProfileService) Get(ctx context.Context, userID uint) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Preload("University").
		Preload("ProgramStudy").
		First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *ProfileService) validate(input ProfileInput) validation.FieldErrors {
	fields := validation.FieldErrors{}
	if err := s.validator.ValidateStruct(input); err != nil {
		var fe validation.FieldErrors
		if errors.As(err, &fe) {
			fields.Merge(fe)
		} else {
			fields.Add("profile", err.Error())
		}
	}
	if input.CohortYear != nil {
		maxYear := s.now().Year() + 1
		if y := *input.CohortYear; y < MinCohortYear || y > maxYear {
			fields.Add("cohort_year", fmt.Sprintf("cohort_year must be between %d and %d", MinCohortYear, maxYear))
		}
	}
	if input.ProgramStudyID != nil && *input.ProgramStudyID == 0 {
		fields.Add("program_study_id", "program_study_id is invalid")
	}
	return fields
}

// Update applies a partial profile update. profile_completed flips to true only when
// this update carries both program_study_id and cohort_year, and never flips back.
func (s *ProfileService) Update(ctx context.Context, userID uint, input ProfileInput) (*model.User, error) {
	if fields := s.validate(input); len(fields) > 0 {
		return nil, fields
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		updates := map[string]interface{}{}

		if input.Name != nil {
			updates["name"] = validation.SanitizeString(*input.Name)
		}
		if input.StudentNumber != nil {
			updates["student_number"] = validation.SanitizeString(*input.StudentNumber)
		}
		if input.Avatar != nil {
			updates["avatar"] = *input.Avatar
		}
		if input.CohortYear != nil {
			updates["cohort_year"] = *input.CohortYear
		}

		if input.ProgramStudyID != nil {
			program, err := s.loadProgram(tx, *input.ProgramStudyID)
			if err != nil {
				return err
			}
			// Loose re-validation: a still-resolvable email must agree with the programme.
			if resolved, ok := s.resolver.Resolve(user.Email); ok && resolved.ID != program.UniversityID {
				return validation.FieldErrors{"program_study_id": "program of study does not belong to your university"}
			}
			updates["program_study_id"] = program.ID
			updates["university_id"] = program.UniversityID
		}

		if input.Meta != nil {
			meta := datatypes.JSONMap{}
			for k, v := range user.ProfileMeta {
				meta[k] = v
			}
			for k, v := range input.Meta {
				if v == nil {
					delete(meta, k)
					continue
				}
				meta[k] = v
			}
			updates["profile_meta"] = meta
		}

		if !user.ProfileCompleted && input.completesProfile() {
			now := s.now()
			updates["profile_completed"] = true
			updates["profile_completed_at"] = &now
			log.Infow("[PROFILE] profile completed", "user_id", user.ID)
		}

		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&user).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

func (s *ProfileService) loadProgram(tx *gorm.DB, id uint) (*model.ProgramStudy, error) {
	var program model.ProgramStudy
	err := tx.Preload("University").First(&program, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validation.FieldErrors{"program_study_id": ErrProgramStudyNotFound.Error()}
	}
	if err != nil {
		return nil, err
	}
	if !program.IsActive || program.University == nil || !program.University.IsActive {
		return nil, validation.FieldErrors{"program_study_id": "program of study is not active"}
	}
	return &program, nil
}
