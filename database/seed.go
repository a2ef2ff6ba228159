package database

import (
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/utils/auth"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Seeder handles database seeding operations
type Seeder struct {
	db *gorm.DB
}

func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

// SeedAll runs all seed functions
func (s *Seeder) SeedAll() error {
	log.Info("🌱 Starting database seeding...")

	if err := s.SeedUniversities(); err != nil {
		return fmt.Errorf("failed to seed universities: %w", err)
	}
	if err := s.SeedAdminUser(); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	log.Info("✅ Database seeding completed successfully!")
	return nil
}

// SeedAdminUser creates the default admin user from ADMIN_EMAIL / ADMIN_PASSWORD.
// Admins skip the profile gate.
func (s *Seeder) SeedAdminUser() error {
	var count int64
	if err := s.db.Model(&model.User{}).Where("role = ?", model.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Info("⏭️  Admin user already exists, skipping...")
		return nil
	}

	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminEmail == "" || adminPassword == "" {
		log.Warn("⚠️  ADMIN_EMAIL and ADMIN_PASSWORD not set, skipping admin user creation")
		return nil
	}

	passwordHash, err := auth.HashPassword(adminPassword)
	if err != nil {
		return err
	}

	admin := &model.User{
		Email:            adminEmail,
		PasswordHash:     passwordHash,
		Name:             "Administrator",
		Role:             model.RoleAdmin,
		ProfileCompleted: true,
		ProfileMeta:      datatypes.JSONMap{},
	}
	if err := s.db.Create(admin).Error; err != nil {
		return err
	}
	log.Infof("✅ Created admin user: %s", admin.Email)
	return nil
}

type seedUniversity struct {
	university model.University
	programs   []model.ProgramStudy
}

// SeedUniversities inserts a starter set of universities with aliases and programmes.
func (s *Seeder) SeedUniversities() error {
	var count int64
	if err := s.db.Model(&model.University{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Info("⏭️  Universities already exist, skipping...")
		return nil
	}

	seeds := []seedUniversity{
		{
			university: model.University{
				Name: "Universitas Indonesia", Slug: "universitas-indonesia", Abbreviation: "UI",
				City: "Depok", Domain: "ui.ac.id",
				DomainAliases: datatypes.JSONSlice[string]{"cs.ui.ac.id", "office.ui.ac.id"},
				IsActive:      true,
			},
			programs: []model.ProgramStudy{
				{Name: "Ilmu Komputer", Slug: "ilmu-komputer", Jenjang: "S1", IsActive: true},
				{Name: "Sistem Informasi", Slug: "sistem-informasi", Jenjang: "S1", IsActive: true},
				{Name: "Ilmu Komputer", Slug: "ilmu-komputer-s2", Jenjang: "S2", IsActive: true},
			},
		},
		{
			university: model.University{
				Name: "Institut Teknologi Bandung", Slug: "institut-teknologi-bandung", Abbreviation: "ITB",
				City: "Bandung", Domain: "itb.ac.id",
				DomainAliases: datatypes.JSONSlice[string]{"students.itb.ac.id", "std.stei.itb.ac.id"},
				IsActive:      true,
			},
			programs: []model.ProgramStudy{
				{Name: "Teknik Informatika", Slug: "teknik-informatika", Jenjang: "S1", IsActive: true},
				{Name: "Teknik Elektro", Slug: "teknik-elektro", Jenjang: "S1", IsActive: true},
			},
		},
		{
			university: model.University{
				Name: "Universitas Gadjah Mada", Slug: "universitas-gadjah-mada", Abbreviation: "UGM",
				City: "Yogyakarta", Domain: "ugm.ac.id",
				DomainAliases: datatypes.JSONSlice[string]{"mail.ugm.ac.id"},
				IsActive:      true,
			},
			programs: []model.ProgramStudy{
				{Name: "Ilmu Komputer", Slug: "ilmu-komputer", Jenjang: "S1", IsActive: true},
				{Name: "Teknologi Informasi", Slug: "teknologi-informasi", Jenjang: "D3", IsActive: true},
			},
		},
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, seed := range seeds {
			uni := seed.university
			if err := tx.Create(&uni).Error; err != nil {
				return err
			}
			for _, p := range seed.programs {
				p.UniversityID = uni.ID
				if err := tx.Create(&p).Error; err != nil {
					return err
				}
			}
			log.Infof("✅ Created university %s with %d programs", uni.Abbreviation, len(seed.programs))
		}
		return nil
	})
}
