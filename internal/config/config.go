package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port int
	Host string

	// Platform database (owns the platform schema and all tenant schemas)
	DatabaseURL string

	// Platform JWT
	PlatformJWTSecret string
	PlatformJWTExpiry int // seconds

	// Break-glass super admin (both set or both empty)
	AdminEmail    string
	AdminPassword string

	// Object storage cleanup for deleted tenants
	StorageEndpoint     string
	StorageRegion       string
	StorageAccessKey    string
	StorageSecretKey    string
	StorageBucketPrefix string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnvInt("PORT", 3000),
		Host:                getEnv("HOST", "0.0.0.0"),
		DatabaseURL:         mustGetEnv("DATABASE_URL"),
		PlatformJWTSecret:   mustGetEnv("PLATFORM_JWT_SECRET"),
		PlatformJWTExpiry:   getEnvInt("PLATFORM_JWT_EXPIRY", 86400),
		AdminEmail:          getEnv("ADMIN_EMAIL", ""),
		AdminPassword:       getEnv("ADMIN_PASSWORD", ""),
		StorageEndpoint:     getEnv("STORAGE_S3_ENDPOINT", ""),
		StorageRegion:       getEnv("STORAGE_S3_REGION", "us-east-1"),
		StorageAccessKey:    getEnv("STORAGE_S3_ACCESS_KEY", ""),
		StorageSecretKey:    getEnv("STORAGE_S3_SECRET_KEY", ""),
		StorageBucketPrefix: getEnv("STORAGE_BUCKET_PREFIX", "tenant-"),
	}

	if len(cfg.PlatformJWTSecret) < 32 {
		return nil, fmt.Errorf("PLATFORM_JWT_SECRET must be at least 32 characters")
	}

	// Validate admin config: both or neither
	if (cfg.AdminEmail != "" && cfg.AdminPassword == "") || (cfg.AdminEmail == "" && cfg.AdminPassword != "") {
		return nil, fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must both be set or both be empty")
	}
	if cfg.AdminPassword != "" && len(cfg.AdminPassword) < 8 {
		return nil, fmt.Errorf("ADMIN_PASSWORD must be at least 8 characters")
	}

	// Storage credentials: all three or none
	storageSet := 0
	for _, v := range []string{cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey} {
		if v != "" {
			storageSet++
		}
	}
	if storageSet != 0 && storageSet != 3 {
		return nil, fmt.Errorf("STORAGE_S3_ENDPOINT, STORAGE_S3_ACCESS_KEY and STORAGE_S3_SECRET_KEY must all be set together")
	}

	return cfg, nil
}

// StorageEnabled reports whether tenant bucket cleanup is configured.
func (c *Config) StorageEnabled() bool {
	return c.StorageEndpoint != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustGetEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
