package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/config"
	"github.com/sahilchouksey/campus-notes/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is what the app needs from a database backend.
type Storage interface {
	Init() error
	Close() error
	HealthCheck() error
	DB() *gorm.DB
}

type GORMStore struct {
	db *gorm.DB
}

// StartGORM opens the database configured in the environment.
func StartGORM() (*GORMStore, error) {
	getEnv, err := config.Get()
	if err != nil {
		return nil, err
	}

	gormLogger := logger.Default.LogMode(logger.Info)
	if getEnv.GO_ENV == "production" {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	var db *gorm.DB
	switch getEnv.DB_DRIVER {
	case "sqlite":
		// DB_NAME is the file path, e.g. "campus-notes.db"
		db, err = OpenSQLite(getEnv.DB_NAME, gormLogger)
	case "postgres", "":
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			getEnv.DB_HOST,
			getEnv.DB_USER_NAME,
			getEnv.DB_PASSWORD,
			getEnv.DB_NAME,
			getEnv.DB_PORT,
			getEnv.DB_SSL_MODE,
		)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:      gormLogger,
			PrepareStmt: true,
		})
		if err == nil {
			err = configurePool(db)
		}
	default:
		err = fmt.Errorf("unsupported DB_DRIVER %q", getEnv.DB_DRIVER)
	}
	if err != nil {
		log.Errorw("Unable to connect to database", "driver", getEnv.DB_DRIVER, "error", err)
		return nil, err
	}

	log.Infow("Connected to database", "driver", getEnv.DB_DRIVER)
	return &GORMStore{db: db}, nil
}

// OpenSQLite opens a SQLite database. A single connection keeps in-memory databases coherent.
func OpenSQLite(dsn string, gormLogger logger.Interface) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn is empty")
	}
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

// NewGORMStore wraps an existing connection, used by tests and tools.
func NewGORMStore(db *gorm.DB) *GORMStore {
	return &GORMStore{db: db}
}

// Models lists every table owned by the service, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&model.University{},
		&model.ProgramStudy{},
		&model.User{},
		&model.Note{},
		&model.NoteFile{},
		&model.JWTTokenBlacklist{},
		&model.CronJobLog{},
	}
}

// Migrate runs AutoMigrate for all models on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// Init runs the AutoMigrate to create/update tables
func (s *GORMStore) Init() error {
	log.Info("Running GORM AutoMigrate...")
	if err := Migrate(s.db); err != nil {
		log.Errorw("AutoMigrate failed", "error", err)
		return err
	}
	log.Info("GORM AutoMigrate completed")
	return nil
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

// HealthCheck verifies the database connection is alive
func (s *GORMStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
