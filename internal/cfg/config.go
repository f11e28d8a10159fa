// Package cfg loads the promotepr configuration from a TOML file and the
// environment.
package cfg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/sethvargo/go-envconfig"

	"github.com/simplesurance/promotepr/internal/promoteerr"
)

const (
	EnvGithubToken            = "GITHUB_TOKEN"
	EnvGithubRepo             = "GITHUB_REPO"
	EnvGithubAppInstallation  = "GITHUB_APP_INSTALLATION_ID"
	EnvGithubAppPrivateKey    = "GITHUB_APP_PRIVATE_KEY"
	cfgKeyGithubAppPrivateKey = "github_app.private_key_file"
)

type Config struct {
	GithubAPIToken string    `toml:"github_api_token"`
	GithubApp      GithubApp `toml:"github_app"`
	// Repository is the github repository in the format OWNER/NAME.
	Repository string `toml:"repository"`

	HeadBranch           string `toml:"head_branch" default:"main"`
	BaseBranch           string `toml:"base_branch" default:"production"`
	PullRequestTitle     string `toml:"pull_request_title" default:"Merge main into production"`
	ChangelogFile        string `toml:"changelog_file" default:"CHANGELOG.md"`
	PackagesDir          string `toml:"packages_dir" default:"packages"`
	VersionHeadingMarker string `toml:"version_heading_marker" default:"##"`

	LogFormat  string `toml:"log_format" default:"logfmt"`
	LogTimeKey string `toml:"log_time_key" default:"time"`
	LogLevel   string `toml:"log_level" default:"info"`
}

// GithubApp contains the credentials to authenticate as GitHub App
// installation instead of with an API token.
type GithubApp struct {
	AppID          int64  `toml:"app_id"`
	InstallationID int64  `toml:"installation_id"`
	PrivateKeyFile string `toml:"private_key_file"`
	// PrivateKey is only read from the environment.
	PrivateKey string `toml:"-"`
}

// Env are the settings read from environment variables, they take
// precedence over the values in the configuration file.
type Env struct {
	GithubToken             string `env:"GITHUB_TOKEN"`
	GithubRepo              string `env:"GITHUB_REPO"`
	GithubAppID             int64  `env:"GITHUB_APP_ID"`
	GithubAppInstallationID int64  `env:"GITHUB_APP_INSTALLATION_ID"`
	GithubAppPrivateKey     string `env:"GITHUB_APP_PRIVATE_KEY"`
}

// Load parses a TOML configuration, unset values are set to their defaults.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Default returns a configuration with all default values.
func Default() *Config {
	cfg, err := Load(strings.NewReader(""))
	if err != nil {
		panic(fmt.Sprintf("loading empty config failed: %s", err))
	}

	return cfg
}

// LoadEnv reads the environment variables via lookuper.
// If lookuper is nil the process environment is used.
func LoadEnv(ctx context.Context, lookuper envconfig.Lookuper) (*Env, error) {
	var result Env

	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}

	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &result,
		Lookuper: lookuper,
	})
	if err != nil {
		return nil, &promoteerr.ConfigError{Err: fmt.Errorf("parsing environment variables failed: %w", err)}
	}

	return &result, nil
}

// ApplyEnv overwrites the configuration with the non-empty values of env.
func (c *Config) ApplyEnv(env *Env) {
	if env.GithubToken != "" {
		c.GithubAPIToken = env.GithubToken
	}

	if env.GithubRepo != "" {
		c.Repository = env.GithubRepo
	}

	if env.GithubAppID != 0 {
		c.GithubApp.AppID = env.GithubAppID
	}

	if env.GithubAppInstallationID != 0 {
		c.GithubApp.InstallationID = env.GithubAppInstallationID
	}

	if env.GithubAppPrivateKey != "" {
		c.GithubApp.PrivateKey = env.GithubAppPrivateKey
	}
}

// UseGithubApp returns true if GitHub App credentials are configured.
func (c *Config) UseGithubApp() bool {
	return c.GithubApp.AppID != 0
}

// RepositoryOwnerAndName splits Repository into its owner and name.
func (c *Config) RepositoryOwnerAndName() (owner, name string, err error) {
	owner, name, found := strings.Cut(c.Repository, "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", &promoteerr.ConfigError{
			Err: fmt.Errorf("repository %q is not in the format OWNER/NAME", c.Repository),
		}
	}

	return owner, name, nil
}

// GithubAppPrivateKey returns the private key of the GitHub App, either from
// the environment or read from the configured file.
func (c *Config) GithubAppPrivateKey() ([]byte, error) {
	if c.GithubApp.PrivateKey != "" {
		return []byte(c.GithubApp.PrivateKey), nil
	}

	key, err := os.ReadFile(c.GithubApp.PrivateKeyFile)
	if err != nil {
		return nil, &promoteerr.ConfigError{Err: fmt.Errorf("reading github app private key failed: %w", err)}
	}

	return key, nil
}

// Validate returns a *promoteerr.ConfigError when the credentials or the
// repository are missing or invalid.
func (c *Config) Validate() error {
	var missing []string

	if c.UseGithubApp() {
		if c.GithubApp.InstallationID == 0 {
			missing = append(missing, EnvGithubAppInstallation)
		}

		if c.GithubApp.PrivateKey == "" && c.GithubApp.PrivateKeyFile == "" {
			missing = append(missing, EnvGithubAppPrivateKey+" or "+cfgKeyGithubAppPrivateKey)
		}
	} else if c.GithubAPIToken == "" {
		missing = append(missing, EnvGithubToken)
	}

	if c.Repository == "" {
		missing = append(missing, EnvGithubRepo)
	}

	if len(missing) > 0 {
		return promoteerr.NewMissingConfigError(missing...)
	}

	if _, _, err := c.RepositoryOwnerAndName(); err != nil {
		return err
	}

	switch c.LogFormat {
	case "logfmt", "console", "json":
	default:
		return &promoteerr.ConfigError{Err: fmt.Errorf("unsupported log_format: %q", c.LogFormat)}
	}

	if c.VersionHeadingMarker == "" {
		return &promoteerr.ConfigError{Err: errors.New("version_heading_marker is empty")}
	}

	return nil
}
