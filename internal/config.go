package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/specdex/internal/storage"
	pkgconfig "github.com/starford/specdex/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app" toml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace" toml:"workspace"`
	Watch     WatchConfig       `yaml:"watch" toml:"watch"`
	Search    SearchConfig      `yaml:"search" toml:"search"`
	FullText  FullTextConfig    `yaml:"fulltext" toml:"fulltext"`
	Auth      AuthConfig        `yaml:"auth" toml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// WorkspaceConfig describes the directory of documents to index.
type WorkspaceConfig struct {
	Path             string   `yaml:"path" toml:"path"`
	Include          []string `yaml:"include" toml:"include"`
	Exclude          []string `yaml:"exclude" toml:"exclude"`
	RespectGitignore bool     `yaml:"respect_gitignore" toml:"respect_gitignore"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Include, validation.Each(validation.Required)),
		validation.Field(&c.Exclude, validation.Each(validation.Required)),
	)
}

// StorageOptions converts the workspace filters to storage options.
func (c *WorkspaceConfig) StorageOptions() []storage.Option {
	var opts []storage.Option
	if len(c.Include) > 0 {
		opts = append(opts, storage.WithInclude(c.Include...))
	}
	if len(c.Exclude) > 0 {
		opts = append(opts, storage.WithExclude(c.Exclude...))
	}
	if c.RespectGitignore {
		opts = append(opts, storage.WithGitignore())
	}
	return opts
}

// WatchConfig controls the file watcher used by the serve command.
type WatchConfig struct {
	Enabled  bool               `yaml:"enabled" toml:"enabled"`
	Debounce pkgconfig.Duration `yaml:"debounce" toml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(pkgconfig.Duration(0))),
	)
}

// SearchConfig controls element search.
type SearchConfig struct {
	Limit          int     `yaml:"limit" toml:"limit"`
	Fuzzy          bool    `yaml:"fuzzy" toml:"fuzzy"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" toml:"fuzzy_threshold"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Limit, validation.Min(0), validation.Max(1000)),
		validation.Field(&c.FuzzyThreshold, validation.Min(0.0), validation.Max(1.0)),
	)
}

// FullTextConfig locates the SQLite body mirror. An empty path disables it.
type FullTextConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
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
				Port: 8080,
			},
		},
		Workspace: WorkspaceConfig{
			Path:             ".",
			Include:          append([]string(nil), storage.DefaultInclude...),
			RespectGitignore: true,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: pkgconfig.Duration(100 * time.Millisecond),
		},
		Search: SearchConfig{
			Limit:          20,
			Fuzzy:          true,
			FuzzyThreshold: 0.85,
		},
		FullText: FullTextConfig{
			Path: "./.specdex.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
