package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for all services
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Publish  PublishConfig  `yaml:"publish"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite file
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig holds blob storage configuration. One credential set per
// backend kind; each site picks its kind once and keeps it.
type StorageConfig struct {
	Default        string        `yaml:"default"` // azure, s3, local
	Azure          AzureConfig   `yaml:"azure"`
	S3             S3Config      `yaml:"s3"`
	Local          LocalConfig   `yaml:"local"`
	PageSize       int           `yaml:"page_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AzureConfig holds Azure Blob Storage credentials. All sites share the
// configured container and are isolated by key prefix.
type AzureConfig struct {
	AccountName   string `yaml:"account_name"`
	AccountKey    string `yaml:"account_key"`
	ContainerName string `yaml:"container_name"`
	Endpoint      string `yaml:"endpoint"`
}

// S3Config holds S3 credentials. Every site gets its own bucket.
type S3Config struct {
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Folder        string `yaml:"folder"`
	UsePathStyle  bool   `yaml:"use_path_style"`
	PublicURLBase string `yaml:"public_url_base"`
	ObjectACL     string `yaml:"object_acl"`
}

// LocalConfig holds settings for the on-disk backend
type LocalConfig struct {
	Path       string        `yaml:"path"`
	BaseURL    string        `yaml:"base_url"`
	SigningKey string        `yaml:"signing_key"`
	URLTTL     time.Duration `yaml:"url_ttl"` // zero means published URLs never expire
}

// PublishConfig holds settings for the publishing workflow
type PublishConfig struct {
	HostID         string        `yaml:"host_id"`
	Concurrency    int           `yaml:"concurrency"`
	TeardownRounds int           `yaml:"teardown_rounds"`
	StoreZipFile   bool          `yaml:"store_zip_file"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	LockBackend    string        `yaml:"lock_backend"` // memory, redis
	LockTTL        time.Duration `yaml:"lock_ttl"`
	TempDir        string        `yaml:"temp_dir"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration"`
	BCryptCost    int           `yaml:"bcrypt_cost"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Minute),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "webgl"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "webgl"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "webgl.db"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Default: getEnv("STORAGE_DEFAULT", "local"),
			Azure: AzureConfig{
				AccountName:   getEnv("AZURE_ACCOUNT_NAME", ""),
				AccountKey:    getEnv("AZURE_ACCOUNT_KEY", ""),
				ContainerName: getEnv("AZURE_CONTAINER_NAME", "webgl"),
				Endpoint:      getEnv("AZURE_ENDPOINT", ""),
			},
			S3: S3Config{
				AccessKey:     getEnv("S3_ACCESS_KEY", ""),
				SecretKey:     getEnv("S3_SECRET_KEY", ""),
				Endpoint:      getEnv("S3_ENDPOINT", "s3.amazonaws.com"),
				Region:        getEnv("S3_REGION", ""), // empty means the endpoint's region
				Folder:        getEnv("S3_FOLDER", ""),
				UsePathStyle:  getEnvBool("S3_USE_PATH_STYLE", false),
				PublicURLBase: getEnv("S3_PUBLIC_URL_BASE", ""),
				ObjectACL:     getEnv("S3_OBJECT_ACL", "public-read"),
			},
			Local: LocalConfig{
				Path:       getEnv("LOCAL_STORAGE_PATH", "./sites"),
				BaseURL:    getEnv("LOCAL_BASE_URL", "http://localhost:8080"),
				SigningKey: getEnv("LOCAL_SIGNING_KEY", "change-me"),
				URLTTL:     getEnvDuration("LOCAL_URL_TTL", 0),
			},
			PageSize:       getEnvInt("STORAGE_PAGE_SIZE", 1000),
			MaxRetries:     getEnvInt("STORAGE_MAX_RETRIES", 3),
			RequestTimeout: getEnvDuration("STORAGE_REQUEST_TIMEOUT", 30*time.Second),
		},
		Publish: PublishConfig{
			HostID:         getEnv("PUBLISH_HOST_ID", hostname()),
			Concurrency:    getEnvInt("PUBLISH_CONCURRENCY", 8),
			TeardownRounds: getEnvInt("PUBLISH_TEARDOWN_ROUNDS", 3),
			StoreZipFile:   getEnvBool("PUBLISH_STORE_ZIP_FILE", false),
			MaxUploadBytes: int64(getEnvInt("PUBLISH_MAX_UPLOAD_BYTES", 512<<20)),
			LockBackend:    getEnv("PUBLISH_LOCK_BACKEND", "memory"),
			LockTTL:        getEnvDuration("PUBLISH_LOCK_TTL", 15*time.Minute),
			TempDir:        getEnv("PUBLISH_TEMP_DIR", os.TempDir()),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", "your-secret-key"),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
			BCryptCost:    getEnvInt("BCRYPT_COST", 12),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate reports missing credentials for the default backend kind
func (s *StorageConfig) Validate() error {
	switch strings.ToLower(s.Default) {
	case "azure":
		if s.Azure.AccountName == "" || s.Azure.AccountKey == "" {
			return fmt.Errorf("azure storage requires account name and key")
		}
		if s.Azure.ContainerName == "" {
			return fmt.Errorf("azure storage requires a container name")
		}
	case "s3":
		if s.S3.AccessKey == "" || s.S3.SecretKey == "" {
			return fmt.Errorf("s3 storage requires access and secret keys")
		}
		if s.S3.Endpoint == "" {
			return fmt.Errorf("s3 storage requires an endpoint")
		}
		if _, err := s.S3.ResolveRegion(); err != nil {
			return err
		}
	case "local", "disk":
		if s.Local.Path == "" {
			return fmt.Errorf("local storage requires a path")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", s.Default)
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("storage page size must be positive")
	}
	return nil
}

// EndpointRegion returns the AWS region an S3 endpoint host is bound to,
// e.g. eu-west-1 for s3-eu-west-1.amazonaws.com. Custom endpoints report
// false.
func (c S3Config) EndpointRegion() (string, bool) {
	host := strings.ToLower(strings.TrimSuffix(c.Endpoint, "/"))
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	if host == "" {
		host = "s3.amazonaws.com"
	}

	var name string
	switch {
	case strings.HasSuffix(host, ".amazonaws.com"):
		name = strings.TrimSuffix(host, ".amazonaws.com")
	case strings.HasSuffix(host, ".amazonaws.com.cn"):
		name = strings.TrimSuffix(host, ".amazonaws.com.cn")
	default:
		return "", false
	}

	switch {
	case name == "s3", name == "s3-external-1":
		return "us-east-1", true
	case strings.HasPrefix(name, "s3.dualstack."):
		name = strings.TrimPrefix(name, "s3.dualstack.")
	case strings.HasPrefix(name, "s3-"), strings.HasPrefix(name, "s3."):
		name = name[len("s3-"):]
	default:
		return "", false
	}
	if name == "" || strings.Contains(name, ".") {
		return "", false
	}
	return name, true
}

// ResolveRegion picks the signing region: the endpoint's own region for AWS
// endpoints, else Region, else us-east-1. A Region naming another AWS
// region than the endpoint is an error.
func (c S3Config) ResolveRegion() (string, error) {
	region, ok := c.EndpointRegion()
	switch {
	case ok && c.Region != "" && !strings.EqualFold(c.Region, region):
		return "", fmt.Errorf("s3 region %s does not match endpoint %s (%s)", c.Region, c.Endpoint, region)
	case ok:
		return region, nil
	case c.Region != "":
		return c.Region, nil
	default:
		return "us-east-1", nil
	}
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SetupLogging configures the global zerolog logger
func (l *LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if l.Format == "console" || l.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
