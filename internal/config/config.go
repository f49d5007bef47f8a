package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Worker   WorkerConfig
	Database DatabaseConfig
	MinIO    MinIOConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Crypto   CryptoConfig
	Cache    CacheConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type WorkerConfig struct {
	StagingRoot     string        `envconfig:"WORKER_STAGING_ROOT" default:"/tmp/atfp-go/staging"`
	UploadRoot      string        `envconfig:"WORKER_UPLOAD_ROOT" default:"/tmp/atfp-go/uploads"`
	MaxRetries      int           `envconfig:"WORKER_MAX_RETRIES" default:"3"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"atfp"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"atfp"`
	DBName   string `envconfig:"POSTGRES_DB" default:"atfp"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type MinIOConfig struct {
	Endpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket    string `envconfig:"MINIO_BUCKET" default:"atfp-segments"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"atfp"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"atfp"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CryptoConfig governs the Crypto Key Manager's rotation cadence: the
// worker checks every RotationInterval/4 whether a rotation is due, and
// generates a new key once MaxKeyAge has passed since the last rotation.
// GetKey("recent") does not check key age.
type CryptoConfig struct {
	KeyStorePath     string        `envconfig:"CRYPTO_KEY_STORE_PATH" default:"/var/lib/atfp-go/keys.json"`
	RotationInterval time.Duration `envconfig:"CRYPTO_ROTATION_INTERVAL" default:"24h"`
	MaxKeyAge        time.Duration `envconfig:"CRYPTO_MAX_KEY_AGE" default:"168h"`
}

// CacheConfig locates the non-stream content cache root the API serves
// encrypted document IDs out of, keyed by contentcache.Cache.
type CacheConfig struct {
	Root string `envconfig:"CACHE_ROOT" default:"/var/cache/atfp-go"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
