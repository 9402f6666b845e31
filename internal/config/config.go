package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "BLOCKPAD"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "blockpad.db"
	defaultLogLevel     = "info"
	defaultLogFormat    = "json"
	defaultCookieName   = "blockpad_session"
	defaultIssuer       = "blockpad"
	defaultTokenTTL     = 12 * time.Hour
	defaultDebounce     = 400 * time.Millisecond
	defaultMaxRetries   = 5
	defaultSearchLimit  = 20
	defaultHeartbeat    = 25 * time.Second
)

// AppConfig captures runtime configuration for the server and the editor
// commands.
type AppConfig struct {
	HTTPAddress       string
	AllowedOrigins    []string
	DatabasePath      string
	LogLevel          string
	LogFormat         string
	SigningSecret     string
	CookieName        string
	Issuer            string
	TokenTTL          time.Duration
	EditorDebounce    time.Duration
	EditorMaxRetries  int
	SearchLimit       int
	HeartbeatInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("http.heartbeat", defaultHeartbeat)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("editor.debounce", defaultDebounce)
	configViper.SetDefault("editor.max_retries", defaultMaxRetries)
	configViper.SetDefault("pages.search_limit", defaultSearchLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    splitOrigins(configViper.GetStringSlice("http.allowed_origins")),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		CookieName:        configViper.GetString("auth.cookie_name"),
		Issuer:            configViper.GetString("auth.issuer"),
		TokenTTL:          configViper.GetDuration("auth.token_ttl"),
		EditorDebounce:    configViper.GetDuration("editor.debounce"),
		EditorMaxRetries:  configViper.GetInt("editor.max_retries"),
		SearchLimit:       configViper.GetInt("pages.search_limit"),
		HeartbeatInterval: configViper.GetDuration("http.heartbeat"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireSigning checks the settings needed to issue or validate sessions.
func (c AppConfig) RequireSigning() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.EditorDebounce <= 0 {
		return fmt.Errorf("editor.debounce must be positive")
	}
	if c.EditorMaxRetries < 0 {
		return fmt.Errorf("editor.max_retries must not be negative")
	}
	return nil
}

// splitOrigins accepts both list values and a comma separated env string.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
