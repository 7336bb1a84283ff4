// Package config loads and validates environment-based configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q: %s", e.Field, e.Message)
}

// Config holds all runtime configuration.
type Config struct {
	Port   int    `mapstructure:"PORT"`
	AppEnv string `mapstructure:"APP_ENV"`

	// Route cache backends. Postgres wins when both are set; with neither,
	// routes are not cached.
	DBDSN         string `mapstructure:"DB_DSN"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// Routing provider. With ORSAPIKey empty the public OSRM server is used.
	ORSAPIKey      string        `mapstructure:"ORS_API_KEY"`
	ORSBaseURL     string        `mapstructure:"ORS_BASE_URL"`
	ORSProfile     string        `mapstructure:"ORS_PROFILE"`
	OSRMBaseURL    string        `mapstructure:"OSRM_BASE_URL"`
	RoutingTimeout time.Duration `mapstructure:"ROUTING_TIMEOUT"`
	RouteCacheTTL  time.Duration `mapstructure:"ROUTE_CACHE_TTL"`

	// IP geolocation fallback for viewers that report no position.
	IPGeoBaseURL       string        `mapstructure:"IPGEO_BASE_URL"`
	GeolocationTimeout time.Duration `mapstructure:"GEOLOCATION_TIMEOUT"`

	// JWTSecret enables bearer auth on the API when set.
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	DefaultZoom    int           `mapstructure:"DEFAULT_ZOOM"`
}

// Production reports whether the service runs with production settings.
func (c *Config) Production() bool { return c.AppEnv == "production" }

// Load reads configuration from the environment and, when CONFIG_FILE is
// set, from that file; environment variables take precedence.
// Returns a ConfigError for any missing or invalid value.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Field: "CONFIG_FILE", Message: err.Error()}
		}
	}

	// Every key has a default, so Unmarshal sees environment overrides.
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Field: "*", Message: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("ORS_API_KEY", "")
	v.SetDefault("ORS_BASE_URL", "https://api.openrouteservice.org")
	v.SetDefault("ORS_PROFILE", "driving-car")
	v.SetDefault("OSRM_BASE_URL", "https://router.project-osrm.org")
	v.SetDefault("ROUTING_TIMEOUT", 20*time.Second)
	v.SetDefault("ROUTE_CACHE_TTL", 10*time.Minute)
	v.SetDefault("IPGEO_BASE_URL", "http://ip-api.com")
	v.SetDefault("GEOLOCATION_TIMEOUT", 10*time.Second)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("DEFAULT_ZOOM", 14)
}

// Validate re-checks fields on an already-constructed Config.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "PORT", Message: "must be between 1 and 65535"})
	}
	for field, raw := range map[string]string{
		"ORS_BASE_URL":   c.ORSBaseURL,
		"OSRM_BASE_URL":  c.OSRMBaseURL,
		"IPGEO_BASE_URL": c.IPGeoBaseURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ConfigError{Field: field, Message: "must be an absolute URL"})
		}
	}
	if c.RoutingTimeout <= 0 {
		errs = append(errs, &ConfigError{Field: "ROUTING_TIMEOUT", Message: "must be positive"})
	}
	if c.GeolocationTimeout <= 0 {
		errs = append(errs, &ConfigError{Field: "GEOLOCATION_TIMEOUT", Message: "must be positive"})
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, &ConfigError{Field: "REQUEST_TIMEOUT", Message: "must be positive"})
	}
	if c.RouteCacheTTL < 0 {
		errs = append(errs, &ConfigError{Field: "ROUTE_CACHE_TTL", Message: "must not be negative"})
	}
	if c.DefaultZoom < 1 || c.DefaultZoom > 22 {
		errs = append(errs, &ConfigError{Field: "DEFAULT_ZOOM", Message: "must be between 1 and 22"})
	}
	return errors.Join(errs...)
}
