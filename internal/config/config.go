package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SYNCROOM"

// DefaultSecret signs session cookies when nothing else is configured.
const DefaultSecret = "change-me"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	DataFile   string        `mapstructure:"data_file"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	SendBuffer int           `mapstructure:"send_buffer"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	Log        LogConfig     `mapstructure:"log"`
	CORS       CORSConfig    `mapstructure:"cors"`
	JoinLimit  JoinLimit     `mapstructure:"join_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

type JoinLimit struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("data_file", "data/rooms.json")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("secret", DefaultSecret)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("cors.origins", []string{"*"})
	v.SetDefault("join_limit.attempts", 20)
	v.SetDefault("join_limit.interval", "1m")
}

// ReadFile reads path, or config/config.<CONFIG_ENV>.yaml when path is empty.
// Only an explicitly requested file has to exist.
func ReadFile(v *viper.Viper, path string) (string, error) {
	explicit := path != ""
	if !explicit {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || (!errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist)) {
			return path, fmt.Errorf("read config %s: %w", path, err)
		}
		return "", nil
	}
	return path, nil
}

func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.DataFile) == "" {
		return errors.New("data_file is required")
	}
	if c.PingPeriod <= 0 {
		return errors.New("ping_period must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.New("send_buffer must be positive")
	}
	if strings.TrimSpace(c.Secret) == "" {
		return errors.New("secret is required")
	}
	return nil
}

// InsecureSecret reports a release deployment still signing cookies with
// DefaultSecret.
func (c *Config) InsecureSecret() bool {
	return c.Mode == "release" && c.Secret == DefaultSecret
}
