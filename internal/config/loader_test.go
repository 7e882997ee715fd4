package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/once/internal/bucket"
	"github.com/mattjoyce/once/internal/digest"
	"github.com/mattjoyce/once/internal/mode"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfg, err := LoadWithEnv("", map[string]string{"HOME": home})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".local", "state", "once"), cfg.StateDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, digest.NameSHA256, cfg.Hash)
	assert.Empty(t, cfg.SourceFile)

	m, err := cfg.DefaultMode()
	require.NoError(t, err)
	assert.Equal(t, mode.Period(bucket.Day), m)
}

func TestLoadXDGStateHome(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	xdg := filepath.Join(home, "xdg-state")
	cfg, err := LoadWithEnv("", map[string]string{"HOME": home, "XDG_STATE_HOME": xdg})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(xdg, "once"), cfg.StateDir)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfgDir := filepath.Join(home, ".config", "once")
	require.NoError(t, os.MkdirAll(cfgDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(`
state_dir: ${JOBS_ROOT}/state
log_level: info
hash: blake3
default_period: week
`), 0o600))

	environ := map[string]string{
		"HOME":           home,
		"JOBS_ROOT":      "/srv/jobs",
		"ONCE_LOG_LEVEL": "debug",
	}
	cfg, err := LoadWithEnv("", environ)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfgDir, "config.yaml"), cfg.SourceFile)
	assert.Equal(t, "/srv/jobs/state", cfg.StateDir)
	assert.Equal(t, "debug", cfg.LogLevel, "env wins over file")
	assert.Equal(t, digest.NameBLAKE3, cfg.Hash)

	p, err := cfg.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest.NameBLAKE3, p.Name())

	m, err := cfg.DefaultMode()
	require.NoError(t, err)
	assert.Equal(t, bucket.Week, m.Granularity)
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	t.Parallel()

	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{"HOME": t.TempDir()})
	assert.Error(t, err)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state_dirr: /tmp\n"), 0o600))

	_, err := LoadWithEnv(path, map[string]string{"HOME": t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_dirr")
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := LoadWithEnv(path, map[string]string{"HOME": t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "sha256", cfg.Hash)
}

func TestLoadExpandsHome(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfg, err := LoadWithEnv("", map[string]string{"HOME": home, "ONCE_STATE_DIR": "~/once-state"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "once-state"), cfg.StateDir)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.StateDir = "/tmp/once"
	require.NoError(t, cfg.Validate())

	cfg.Hash = "md5"
	cfg.LogFormat = "xml"
	cfg.LogLevel = "loud"
	cfg.DefaultPeriod = "year"
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"md5", "log_format", "log_level", "default_period"} {
		assert.True(t, strings.Contains(err.Error(), want), "missing %q in %v", want, err)
	}
}

func TestDiscoverConfigFilePriority(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	explicit := filepath.Join(home, "explicit.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("{}\n"), 0o600))
	xdg := filepath.Join(home, "xdg")
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "once"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "once", "config.yaml"), []byte("{}\n"), 0o600))

	assert.Equal(t, explicit, DiscoverConfigFile(map[string]string{"HOME": home, "ONCE_CONFIG": explicit, "XDG_CONFIG_HOME": xdg}))
	assert.Equal(t, filepath.Join(xdg, "once", "config.yaml"), DiscoverConfigFile(map[string]string{"HOME": home, "XDG_CONFIG_HOME": xdg}))
	assert.Equal(t, "", DiscoverConfigFile(map[string]string{"HOME": home}))
}

func TestResolveLeavesValidationToCaller(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hash: md5\n"), 0o600))
	environ := map[string]string{"HOME": home}

	cfg, err := Resolve(path, environ)
	require.NoError(t, err)
	assert.Equal(t, "md5", cfg.Hash)
	assert.Equal(t, path, cfg.SourceFile)
	assert.Error(t, cfg.Validate())

	_, err = LoadWithEnv(path, environ)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "md5")

	// Malformed files are still rejected up front.
	require.NoError(t, os.WriteFile(path, []byte("hash: [\n"), 0o600))
	_, err = Resolve(path, environ)
	assert.Error(t, err)
}
