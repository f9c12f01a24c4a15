package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultRefreshIntervalSeconds  = 5 * 60
	DefaultDirectoryTimeoutSeconds = 10
	DefaultDirectoryMaxRetries     = 2
	DefaultDirectoryRetryDelayMS   = 100
	DefaultDirectoryMaxRedirects   = 5
	DefaultUserAgent               = "go-crowdauth/v1"
	maxDirectoryRetries            = 5
)

type DirectoryConfig struct {
	URL            string `koanf:"url" mapstructure:"url"`
	AppName        string `koanf:"app_name" mapstructure:"app_name"`
	AppPassword    string `koanf:"app_password" mapstructure:"app_password"`
	UserAgent      string `koanf:"user_agent" mapstructure:"user_agent"`
	TimeoutSeconds int    `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries     int    `koanf:"max_retries" mapstructure:"max_retries"`
	RetryDelayMS   int    `koanf:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	MaxRedirects   int    `koanf:"max_redirects" mapstructure:"max_redirects"`
}

type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`
	// RefreshInterval is the maximum age, in seconds, of a local record
	// before it is re-validated against the directory.
	RefreshInterval int `koanf:"refresh_interval" mapstructure:"refresh_interval"`
	// AppGroups restricts login to members of at least one group. Empty
	// allows every directory user.
	AppGroups []string        `koanf:"app_groups" mapstructure:"app_groups"`
	Directory DirectoryConfig `koanf:"directory" mapstructure:"directory"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:     "crowdauth",
		RefreshInterval: DefaultRefreshIntervalSeconds,
		AppGroups:       []string{},
		Directory: DirectoryConfig{
			UserAgent:      DefaultUserAgent,
			TimeoutSeconds: DefaultDirectoryTimeoutSeconds,
			MaxRetries:     DefaultDirectoryMaxRetries,
			RetryDelayMS:   DefaultDirectoryRetryDelayMS,
			MaxRedirects:   DefaultDirectoryMaxRedirects,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("core: refresh_interval must not be negative")
	}
	return c.Directory.validate()
}

func (c Config) RefreshDuration() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

// ValidateEndpoint checks the fields a live directory client needs. Config
// validation alone accepts an empty endpoint so a store-only host can load.
func (c DirectoryConfig) ValidateEndpoint() error {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return fmt.Errorf("core: directory.url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("core: directory.url is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("core: directory.url must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("core: directory.url host is required")
	}
	if strings.HasSuffix(raw, "/") {
		return fmt.Errorf("core: directory.url must not end in a forward slash")
	}
	if strings.TrimSpace(c.AppName) == "" {
		return fmt.Errorf("core: directory.app_name is required")
	}
	return nil
}

func (c DirectoryConfig) validate() error {
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("core: directory.timeout_seconds must not be negative")
	}
	if c.MaxRetries < 0 || c.MaxRetries > maxDirectoryRetries {
		return fmt.Errorf("core: directory.max_retries must be between 0 and %d", maxDirectoryRetries)
	}
	if c.RetryDelayMS < 0 {
		return fmt.Errorf("core: directory.retry_delay_ms must not be negative")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("core: directory.max_redirects must not be negative")
	}
	return nil
}

func (c DirectoryConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultDirectoryTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c DirectoryConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}
