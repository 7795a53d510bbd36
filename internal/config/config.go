package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "VIEWING"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	JWTIssuer    string        `mapstructure:"jwt_issuer"`
	JWTClockSkew time.Duration `mapstructure:"jwt_clock_skew"`

	GracePeriod      time.Duration `mapstructure:"grace_period"`
	TombstoneTTL     time.Duration `mapstructure:"tombstone_ttl"`
	JanitorPeriod    time.Duration `mapstructure:"janitor_period"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	ChatHistory      int           `mapstructure:"chat_history"`
	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`

	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type ClientConfig struct {
	RelayURL                 string        `mapstructure:"relay_url"`
	Token                    string        `mapstructure:"token"`
	LogLevel                 string        `mapstructure:"log_level"`
	ReconnectAttempts        uint64        `mapstructure:"reconnect_attempts"`
	ReconnectMaxElapsed      time.Duration `mapstructure:"reconnect_max_elapsed"`
	ReconnectInitialInterval time.Duration `mapstructure:"reconnect_initial_interval"`
	ReconnectMaxInterval     time.Duration `mapstructure:"reconnect_max_interval"`
	HeartbeatPeriod          time.Duration `mapstructure:"heartbeat_period"`
	ICEServers               []string      `mapstructure:"ice_servers"`
}

// Load reads config/config.<CONFIG_ENV>.yaml over the server defaults.
// VIEWING_* environment variables take precedence over the file.
func Load() (*Config, error) {
	v := newViper()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "15s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_issuer", "")
	v.SetDefault("jwt_clock_skew", "30s")
	v.SetDefault("grace_period", "60s")
	v.SetDefault("tombstone_ttl", "1h")
	v.SetDefault("janitor_period", "5m")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("chat_history", 200)
	v.SetDefault("chat_rate_limit", 10)
	v.SetDefault("chat_rate_interval", "5s")
	v.SetDefault("postgres_dsn", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config loaded")
	return &cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	v := newViper()

	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/viewing")
	v.SetDefault("token", "")
	v.SetDefault("log_level", "warn")
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_max_elapsed", "30s")
	v.SetDefault("reconnect_initial_interval", "500ms")
	v.SetDefault("reconnect_max_interval", "8s")
	v.SetDefault("heartbeat_period", "20s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config file")
	}
	return v
}
