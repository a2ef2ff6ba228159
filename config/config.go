package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	// All variables
	GO_ENV       string
	DB_DRIVER    string // postgres (default) or sqlite
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// JWT Configuration
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration
	REDIS_URL      string
	REDIS_PASSWORD string
	REDIS_DB       string
	// DigitalOcean Configuration
	DO_SPACES_ACCESS_KEY string
	DO_SPACES_SECRET_KEY string
	DO_SPACES_BUCKET     string
	DO_SPACES_REGION     string
	DO_SPACES_ENDPOINT   string
	DO_SPACES_CDN_URL    string
	// AI inference (OpenAI compatible endpoint)
	AI_API_KEY             string
	AI_BASE_URL            string
	AI_MODEL               string
	AI_REQUESTS_PER_MINUTE int
	// Admission
	INSTITUTIONAL_EMAIL_SUFFIXES []string
	PROFILE_COMPLETION_PATH      string
	// Enrichment pipeline
	ENRICH_WORKERS                 int
	ENRICH_QUEUE_SIZE              int
	ENRICH_TIMEOUT_SECONDS         int
	ENRICH_STALE_MINUTES           int
	ENRICH_PENDING_REQUEUE_MINUTES int
	MAX_UPLOAD_MB                  int
	// Misc
	CRON_ENABLED    bool
	ALLOWED_ORIGINS string
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	// MODEL_ACCESS_KEY is the DigitalOcean name for the inference key
	aiKey := os.Getenv("AI_API_KEY")
	if aiKey == "" {
		aiKey = os.Getenv("MODEL_ACCESS_KEY")
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_DRIVER:    getEnvString("DB_DRIVER", "postgres"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  os.Getenv("DB_SSL_MODE"),
		PORT:         port,
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: os.Getenv("JWT_ISSUER"),
		// Redis
		REDIS_URL:      os.Getenv("REDIS_URL"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),
		REDIS_DB:       os.Getenv("REDIS_DB"),
		// DigitalOcean
		DO_SPACES_ACCESS_KEY: os.Getenv("DO_SPACES_ACCESS_KEY"),
		DO_SPACES_SECRET_KEY: os.Getenv("DO_SPACES_SECRET_KEY"),
		DO_SPACES_BUCKET:     os.Getenv("DO_SPACES_BUCKET"),
		DO_SPACES_REGION:     os.Getenv("DO_SPACES_REGION"),
		DO_SPACES_ENDPOINT:   os.Getenv("DO_SPACES_ENDPOINT"),
		DO_SPACES_CDN_URL:    os.Getenv("DO_SPACES_CDN_URL"),
		// AI
		AI_API_KEY:             aiKey,
		AI_BASE_URL:            getEnvString("AI_BASE_URL", "https://inference.do-ai.run/v1"),
		AI_MODEL:               getEnvString("AI_MODEL", "openai-gpt-oss-120b"),
		AI_REQUESTS_PER_MINUTE: getEnvInt("AI_REQUESTS_PER_MINUTE", 30),
		// Admission
		INSTITUTIONAL_EMAIL_SUFFIXES: getEnvList("INSTITUTIONAL_EMAIL_SUFFIXES", []string{".ac.id"}),
		PROFILE_COMPLETION_PATH:      getEnvString("PROFILE_COMPLETION_PATH", "/profile/complete"),
		// Enrichment
		ENRICH_WORKERS:                 getEnvInt("ENRICH_WORKERS", 4),
		ENRICH_QUEUE_SIZE:              getEnvInt("ENRICH_QUEUE_SIZE", 256),
		ENRICH_TIMEOUT_SECONDS:         getEnvInt("ENRICH_TIMEOUT_SECONDS", 120),
		ENRICH_STALE_MINUTES:           getEnvInt("ENRICH_STALE_MINUTES", 30),
		ENRICH_PENDING_REQUEUE_MINUTES: getEnvInt("ENRICH_PENDING_REQUEUE_MINUTES", 5),
		MAX_UPLOAD_MB:                  getEnvInt("MAX_UPLOAD_MB", 10),
		// Misc
		CRON_ENABLED:    os.Getenv("CRON_ENABLED") != "false",
		ALLOWED_ORIGINS: getEnvString("ALLOWED_ORIGINS", "http://localhost:3000"),
	}

	return envVariables, nil
}

func getEnvString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// getEnvList reads a comma separated list, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
