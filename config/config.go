package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samclaus/games/models"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Room      RoomConfig      `mapstructure:"room"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string   `mapstructure:"http_address"`
	RPCAddress     string   `mapstructure:"rpc_address"`
	HealthAddress  string   `mapstructure:"health_address"`
	MetricsAddress string   `mapstructure:"metrics_address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RoomConfig holds the policy parameters every new room starts with.
type RoomConfig struct {
	LockTeamsDuringGame bool          `mapstructure:"lock_teams_during_game"`
	SeatTimeout         time.Duration `mapstructure:"seat_timeout"`
	SendQueueSize       int           `mapstructure:"send_queue_size"`
	InboxSize           int           `mapstructure:"inbox_size"`
	LogTail             int           `mapstructure:"log_tail"`
	MinPerRole          int           `mapstructure:"min_per_role"`
	MaxClueCount        int           `mapstructure:"max_clue_count"`
	MaxClueLength       int           `mapstructure:"max_clue_length"`
	Rotation            []string      `mapstructure:"rotation"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultRotation is the turn order used when none is configured.
var DefaultRotation = []string{"purple_knower", "teal_knower", "purple_seeker", "teal_seeker"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.health_address", ":9091")
	v.SetDefault("server.metrics_address", ":9100")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("room.lock_teams_during_game", true)
	v.SetDefault("room.seat_timeout", 2*time.Minute)
	v.SetDefault("room.send_queue_size", 256)
	v.SetDefault("room.inbox_size", 128)
	v.SetDefault("room.log_tail", 50)
	v.SetDefault("room.min_per_role", 1)
	v.SetDefault("room.max_clue_count", 9)
	v.SetDefault("room.max_clue_length", 64)
	v.SetDefault("room.rotation", DefaultRotation)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("rate_limit.per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path (if present) and applies CLUEROOM_*
// environment overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("clueroom")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic("config: defaults do not unmarshal: " + err.Error())
	}
	return &cfg
}

func (c *Config) Validate() error {
	if _, err := c.Room.RotationRoles(); err != nil {
		return err
	}
	if c.Room.SendQueueSize <= 0 || c.Room.InboxSize <= 0 {
		return errors.New("config: room queue sizes must be positive")
	}
	if c.Room.MinPerRole < 0 || c.Room.MaxClueCount < 0 || c.Room.MaxClueLength <= 0 {
		return errors.New("config: invalid clue or round limits")
	}
	if c.Room.SeatTimeout < 0 {
		return errors.New("config: seat_timeout must not be negative")
	}
	if c.Auth.SigningKey == "" {
		return errors.New("config: auth.signing_key is required")
	}
	switch c.Database.Driver {
	case "memory", "postgres", "gorm":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// RotationRoles parses the configured turn rotation, which must name each of
// the four team roles exactly once.
func (rc RoomConfig) RotationRoles() ([]models.Role, error) {
	names := rc.Rotation
	if len(names) == 0 {
		names = DefaultRotation
	}
	if len(names) != len(models.TeamRoles) {
		return nil, fmt.Errorf("config: rotation must list %d roles, got %d", len(models.TeamRoles), len(names))
	}

	seen := make(map[models.Role]bool, len(names))
	roles := make([]models.Role, 0, len(names))
	for _, name := range names {
		r, err := models.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("config: rotation: %w", err)
		}
		if r == models.RoleSpectator {
			return nil, errors.New("config: rotation cannot include spectator")
		}
		if seen[r] {
			return nil, fmt.Errorf("config: rotation lists %s twice", r)
		}
		seen[r] = true
		roles = append(roles, r)
	}
	return roles, nil
}
