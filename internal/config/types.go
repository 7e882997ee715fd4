package config

// Config is the wrapper's configuration. Precedence, lowest first:
// Defaults(), the YAML file, ONCE_* environment variables, CLI flags.
type Config struct {
	StateDir      string `yaml:"state_dir"      env:"ONCE_STATE_DIR"`
	LogLevel      string `yaml:"log_level"      env:"ONCE_LOG_LEVEL"`
	LogFormat     string `yaml:"log_format"     env:"ONCE_LOG_FORMAT"`
	Hash          string `yaml:"hash"           env:"ONCE_HASH"`
	DefaultPeriod string `yaml:"default_period" env:"ONCE_DEFAULT_PERIOD"`

	// SourceFile is the YAML file that was loaded, if any.
	SourceFile string `yaml:"-" env:"-"`
}

// Defaults returns a Config with sensible defaults. StateDir is left empty
// here and resolved by Load, since it depends on the user's environment.
func Defaults() *Config {
	return &Config{
		LogLevel:      "warn",
		LogFormat:     "text",
		Hash:          "sha256",
		DefaultPeriod: "day",
	}
}
