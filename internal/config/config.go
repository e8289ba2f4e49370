package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "WORSHIP"

type Config struct {
	App       App       `mapstructure:"app"`
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Broadcast Broadcast `mapstructure:"broadcast"`
	Kafka     Kafka     `mapstructure:"kafka"`
	RabbitMQ  RabbitMQ  `mapstructure:"rabbitmq"`
	MinIO     MinIO     `mapstructure:"minio"`
	JWT       JWT       `mapstructure:"jwt"`
	Engine    Engine    `mapstructure:"engine"`
}

type App struct {
	Environment string `mapstructure:"environment"`
}

func (a App) IsProduction() bool { return a.Environment == "production" }

func (a App) IsDevelop() bool { return a.Environment == "develop" }

type Server struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Database struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Redis is optional; when Addr is empty rooms are locked in-process and
// playback snapshots are not cached.
type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func (r Redis) Enabled() bool { return r.Addr != "" }

type Broadcast struct {
	Driver string `mapstructure:"driver"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type RabbitMQ struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"pass"`
	Exchange string `mapstructure:"exchange"`
}

type MinIO struct {
	URL      string `mapstructure:"url"`
	AccessID string `mapstructure:"access_id"`
	Secret   string `mapstructure:"secret"`
	Bucket   string `mapstructure:"bucket"`
	Secure   bool   `mapstructure:"secure"`
}

type JWT struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type Engine struct {
	SyncBuffer time.Duration `mapstructure:"sync_buffer"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

var defaults = map[string]interface{}{
	"app.environment":            "develop",
	"server.port":                "8080",
	"server.allowed_origins":     []string{"http://localhost:5173"},
	"database.driver":            "mysql",
	"database.dsn":               "",
	"database.max_idle_conns":    10,
	"database.max_open_conns":    100,
	"database.conn_max_lifetime": time.Hour,
	"redis.addr":                 "",
	"redis.password":             "",
	"redis.db":                   0,
	"redis.cache_ttl":            24 * time.Hour,
	"broadcast.driver":           "local",
	"kafka.brokers":              []string{"localhost:9092"},
	"kafka.topic":                "worship-room-events",
	"kafka.group_id":             "",
	"rabbitmq.host":              "localhost",
	"rabbitmq.port":              5672,
	"rabbitmq.user":              "guest",
	"rabbitmq.pass":              "guest",
	"rabbitmq.exchange":          "worship_room_events",
	"minio.url":                  "localhost:9000",
	"minio.access_id":            "",
	"minio.secret":               "",
	"minio.bucket":               "worship-room",
	"minio.secure":               false,
	"jwt.secret":                 "",
	"jwt.ttl":                    24 * time.Hour,
	"engine.sync_buffer":         2 * time.Second,
	"engine.lock_ttl":            10 * time.Second,
}

// Load reads .env (if present), then config.yaml from path (if present),
// then WORSHIP_* environment overrides such as WORSHIP_DATABASE_DSN.
// path may name a directory or a file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			v.SetConfigFile(path)
		} else {
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Broadcast.Driver {
	case "local", "kafka", "amqp":
	default:
		return fmt.Errorf("unsupported broadcast driver %q", c.Broadcast.Driver)
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if len(c.Server.AllowedOrigins) == 0 {
		return errors.New("server.allowed_origins must not be empty")
	}
	if c.JWT.Secret == "" && !c.App.IsDevelop() {
		return errors.New("jwt.secret is required outside develop")
	}
	return nil
}
