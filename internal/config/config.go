package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	UseRedisCodes        bool
	Issuer               string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	IDTokenTTL           time.Duration
	AuthorizationCodeTTL time.Duration
	RefreshTokenBytes    int
	RotateRefreshTokens  bool
	PasswordMinLength    int
	PasswordUppercase    bool
	PasswordNumber       bool
	PasswordSymbol       bool
	AdminEmail           string
	AdminPassword        string
	SeedClientID         string
	SeedClientSecret     string
	SeedClientRedirects  []string
	SeedClientScopes     []string
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
// DATABASE_URL is optional: when empty the service runs on the in-memory
// store, which suits development and tests only.
func Load() (Config, error) {
	_ = godotenv.Load()

	adminEmail := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	if adminEmail == "" {
		return Config{}, fmt.Errorf("ADMIN_EMAIL is required")
	}
	adminPassword := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
	if adminPassword == "" {
		return Config{}, fmt.Errorf("ADMIN_PASSWORD is required")
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		UseRedisCodes:        getBool("REDIS_CODE_STORE", false),
		Issuer:               getEnv("ISSUER", "http://localhost:8080"),
		AccessTokenTTL:       getDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:      getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		IDTokenTTL:           getDuration("ID_TOKEN_TTL", time.Hour),
		AuthorizationCodeTTL: getDuration("AUTH_CODE_TTL", 10*time.Minute),
		RefreshTokenBytes:    getInt("REFRESH_TOKEN_BYTES", 32),
		RotateRefreshTokens:  getBool("ROTATE_REFRESH_TOKENS", true),
		PasswordMinLength:    getInt("PASSWORD_MIN_LENGTH", 12),
		PasswordUppercase:    getBool("PASSWORD_REQUIRE_UPPERCASE", true),
		PasswordNumber:       getBool("PASSWORD_REQUIRE_NUMBER", true),
		PasswordSymbol:       getBool("PASSWORD_REQUIRE_SYMBOL", false),
		AdminEmail:           adminEmail,
		AdminPassword:        adminPassword,
		SeedClientID:         getEnv("SEED_CLIENT_ID", "beekeeper-console"),
		SeedClientSecret:     os.Getenv("SEED_CLIENT_SECRET"),
		SeedClientRedirects:  getList("SEED_CLIENT_REDIRECT_URIS", []string{"http://localhost:3000/callback"}),
		SeedClientScopes:     getList("SEED_CLIENT_SCOPES", []string{"openid", "profile", "email"}),
		ServiceName:          getEnv("SERVICE_NAME", "beekeeper-identity"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.RefreshTokenBytes < 32 {
		cfg.RefreshTokenBytes = 32
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
