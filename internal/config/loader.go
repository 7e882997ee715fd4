// Package config loads the wrapper configuration from defaults, an optional
// YAML file and ONCE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/once/internal/bucket"
	"github.com/mattjoyce/once/internal/digest"
	"github.com/mattjoyce/once/internal/mode"
)

const appName = "once"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadWithEnv builds and validates the configuration. configPath may be
// empty, in which case the file is discovered and is optional. environ is
// the process environment as a map (env.ToMap(os.Environ())).
func LoadWithEnv(configPath string, environ map[string]string) (*Config, error) {
	cfg, err := Resolve(configPath, environ)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Resolve merges defaults, the config file and the environment without
// validating field values. Unreadable or malformed files are still errors.
func Resolve(configPath string, environ map[string]string) (*Config, error) {
	cfg := Defaults()

	path := configPath
	required := path != ""
	if !required {
		path = DiscoverConfigFile(environ)
	}
	if path != "" {
		if err := loadFile(cfg, path, environ, required); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.StateDir == "" {
		dir, err := DefaultStateDir(environ)
		if err != nil {
			return nil, err
		}
		cfg.StateDir = dir
	}
	cfg.StateDir = expandHome(cfg.StateDir, environ)
	return cfg, nil
}

func loadFile(cfg *Config, path string, environ map[string]string, required bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", absPath, err)
	}

	data = []byte(interpolateEnv(string(data), environ))

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", absPath, err)
	}
	cfg.SourceFile = absPath
	return nil
}

// DiscoverConfigFile returns the first candidate config file that exists.
// Priority order: $ONCE_CONFIG, $XDG_CONFIG_HOME/once/config.yaml,
// ~/.config/once/config.yaml. Returns "" when none exists.
func DiscoverConfigFile(environ map[string]string) string {
	var candidates []string
	if p := environ["ONCE_CONFIG"]; p != "" {
		candidates = append(candidates, p)
	}
	if xdg := environ["XDG_CONFIG_HOME"]; xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, appName, "config.yaml"))
	}
	if home := homeDir(environ); home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", appName, "config.yaml"))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// DefaultStateDir follows the XDG base directory convention:
// $XDG_STATE_HOME/once, else ~/.local/state/once.
func DefaultStateDir(environ map[string]string) (string, error) {
	if xdg := environ["XDG_STATE_HOME"]; xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appName), nil
	}
	home := homeDir(environ)
	if home == "" {
		return "", fmt.Errorf("cannot determine state directory: HOME is not set (use --state-dir or ONCE_STATE_DIR)")
	}
	return filepath.Join(home, ".local", "state", appName), nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StateDir) == "" {
		errs = append(errs, fmt.Errorf("state_dir is empty"))
	}
	if _, err := digest.ByName(c.Hash); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	if _, err := bucket.ParseGranularity(c.DefaultPeriod); err != nil {
		errs = append(errs, fmt.Errorf("default_period: %w", err))
	}
	return errors.Join(errs...)
}

// DefaultMode is the mode used when neither --period nor --window is given.
func (c *Config) DefaultMode() (mode.Mode, error) {
	g, err := bucket.ParseGranularity(c.DefaultPeriod)
	if err != nil {
		return mode.Mode{}, err
	}
	return mode.Period(g), nil
}

// Digest returns the configured hash provider.
func (c *Config) Digest() (digest.Provider, error) {
	return digest.ByName(c.Hash)
}

func interpolateEnv(input string, environ map[string]string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := environ[name]; ok {
			return v
		}
		return match
	})
}

func homeDir(environ map[string]string) string {
	if h := environ["HOME"]; h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return ""
}

func expandHome(path string, environ map[string]string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home := homeDir(environ); home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
