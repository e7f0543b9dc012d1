package internal

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mdview/internal/converter"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Tags      TagsConfig        `yaml:"tags"`
	History   HistoryConfig     `yaml:"history"`
	Converter ConverterConfig   `yaml:"converter"`
	Render    RenderConfig      `yaml:"render"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Tags.Validate(); err != nil {
		return err
	}
	if err := c.Converter.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the address a local browser should open.
func (c *HTTPConfig) URL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port)) + "/"
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// TagsConfig holds the location of the tag file.
type TagsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the tags configuration.
func (c *TagsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// HistoryConfig holds the SQLite history database location. An empty path
// disables history.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether history is recorded.
func (c *HistoryConfig) Enabled() bool {
	return c.Path != ""
}

// ConverterConfig configures the external document converter.
type ConverterConfig struct {
	Binary     string `yaml:"binary"`
	BundledDir string `yaml:"bundled_dir"`
	InstallURL string `yaml:"install_url"`
}

// Validate validates the converter configuration.
func (c *ConverterConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Binary, validation.Required),
	)
}

// ResolvedBinary returns the bundled converter when present, else Binary.
func (c *ConverterConfig) ResolvedBinary() string {
	return converter.ResolveBinary(c.Binary, c.BundledDir)
}

// RenderConfig overrides the scripts the page loads. Empty values use the
// renderer defaults.
type RenderConfig struct {
	MathJaxURL string `yaml:"mathjax_url"`
	MermaidURL string `yaml:"mermaid_url"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication on /api; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Host: "127.0.0.1",
				Port: 8080,
			},
		},
		Tags: TagsConfig{
			Path: "./tags.json",
		},
		History: HistoryConfig{
			Path: "./mdview.db",
		},
		Converter: ConverterConfig{
			Binary:     converter.DefaultBinary,
			BundledDir: "pandoc",
			InstallURL: converter.DefaultInstallURL,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
