//go:build unix

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/once/internal/digest"
	"github.com/mattjoyce/once/internal/identity"
	"github.com/mattjoyce/once/internal/lock"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

type testEnv struct {
	t        *testing.T
	home     string
	stateDir string
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		t:        t,
		home:     t.TempDir(),
		stateDir: filepath.Join(t.TempDir(), "state"),
		now:      time.Date(2025, time.March, 10, 12, 0, 0, 0, time.Local),
	}
}

func (e *testEnv) run(args ...string) cliResult {
	e.t.Helper()

	var stdout, stderr bytes.Buffer
	c := newCLI(strings.NewReader(""), &stdout, &stderr, map[string]string{"HOME": e.home})
	c.now = func() time.Time { return e.now }

	full := append([]string{"--state-dir", e.stateDir}, args...)
	code := c.run(full)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func (e *testEnv) stamps(kind string) []string {
	e.t.Helper()
	matches, err := filepath.Glob(filepath.Join(e.stateDir, kind, "*.stamp"))
	require.NoError(e.t, err)
	if kind == "periods" {
		matches, err = filepath.Glob(filepath.Join(e.stateDir, kind, "*", "*.stamp"))
		require.NoError(e.t, err)
	}
	return matches
}

func TestWindowRunThenSkip(t *testing.T) {
	e := newTestEnv(t)

	res := e.run("--window", "1h", "--", "echo", "hi")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "hi\n", res.stdout)
	assert.Len(t, e.stamps("windows"), 1)

	res = e.run("--window", "1h", "--", "echo", "hi")
	assert.Equal(t, 3, res.code)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, "Skipped: ran 0s ago; window 1h.")

	e.now = e.now.Add(time.Hour)
	res = e.run("--window", "1h", "--", "echo", "hi")
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "hi\n", res.stdout)
}

func TestPeriodSkipMessage(t *testing.T) {
	e := newTestEnv(t)

	res := e.run("--period", "day", "--", "echo", "hi")
	require.Equal(t, 0, res.code, res.stderr)

	res = e.run("--period", "day", "--", "echo", "hi")
	assert.Equal(t, 3, res.code)
	assert.Contains(t, res.stderr, "Skipped: already ran in day 2025-03-10.")
	assert.Len(t, e.stamps("periods"), 1)
	assert.DirExists(t, filepath.Join(e.stateDir, "periods", "2025-03-10"))
}

func TestDefaultModeIsDaily(t *testing.T) {
	e := newTestEnv(t)

	require.Equal(t, 0, e.run("echo", "hi").code)
	res := e.run("echo", "hi")
	assert.Equal(t, 3, res.code)
	assert.Contains(t, res.stderr, "already ran in day 2025-03-10")
}

func TestArgumentsAfterCommandAreNotFlags(t *testing.T) {
	e := newTestEnv(t)

	res := e.run("--window", "1h", "echo", "-n", "hi")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "hi", res.stdout)
}

func TestKeyExtraSeparatesIdentities(t *testing.T) {
	e := newTestEnv(t)

	staging := e.run("--key-extra", "staging", "--window", "1h", "--", "echo", "hi")
	prod := e.run("--key-extra", "prod", "--window", "1h", "--", "echo", "hi")
	assert.Equal(t, 0, staging.code)
	assert.Equal(t, 0, prod.code)
	assert.Len(t, e.stamps("windows"), 2)

	again := e.run("--key-extra", "staging", "--window", "1h", "--", "echo", "hi")
	assert.Equal(t, 3, again.code)
}

func TestFailedCommandIsRetried(t *testing.T) {
	e := newTestEnv(t)

	for range 2 {
		res := e.run("--window", "1h", "--", "false")
		assert.Equal(t, 1, res.code)
	}
	assert.Empty(t, e.stamps("windows"))
}

func TestDryRun(t *testing.T) {
	e := newTestEnv(t)

	res := e.run("--dry-run", "--window", "1h", "--", "echo", "hi there")
	assert.Equal(t, 0, res.code)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, "Dry run: would run echo 'hi there'.")
	assert.Empty(t, e.stamps("windows"))

	// Still eligible for a real run.
	res = e.run("--window", "1h", "--", "echo", "hi there")
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "hi there\n", res.stdout)
}

func TestForce(t *testing.T) {
	e := newTestEnv(t)

	require.Equal(t, 0, e.run("--window", "1h", "--", "echo", "hi").code)
	res := e.run("--force", "--window", "1h", "--", "echo", "hi")
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "hi\n", res.stdout)
}

func TestBusyWhenLocked(t *testing.T) {
	e := newTestEnv(t)

	resolved, err := identity.NewResolver(digest.SHA256).Resolve("echo", []string{"hi"}, "")
	require.NoError(t, err)
	held, err := lock.NewManager(e.stateDir).Acquire(resolved.Token)
	require.NoError(t, err)
	defer held.Release()

	res := e.run("--window", "1h", "--", "echo", "hi")
	assert.Equal(t, 4, res.code)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, "Busy: another invocation is running this command.")
	assert.Empty(t, e.stamps("windows"))
}

func TestUsageErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"both modes", []string{"--period", "day", "--window", "1h", "--", "echo", "hi"}, "mutually exclusive"},
		{"bad window", []string{"--window", "1x", "--", "echo", "hi"}, "invalid duration"},
		{"bad period", []string{"--period", "year", "--", "echo", "hi"}, `invalid period "year"`},
		{"no command", []string{"--window", "1h"}, "no command given"},
		{"unknown flag", []string{"--bogus", "--", "echo", "hi"}, "unknown flag"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t)
			res := e.run(tc.args...)
			assert.Equal(t, 1, res.code)
			assert.Contains(t, res.stderr, tc.want)
			assert.Contains(t, res.stderr, "once --help")
			assert.NotContains(t, res.stderr, "unsupported clock")
			assert.Empty(t, res.stdout)
			assert.NoDirExists(t, e.stateDir)
		})
	}
}

func TestCommandNotFound(t *testing.T) {
	e := newTestEnv(t)

	res := e.run("--", "definitely-not-a-real-command-xyz")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "command not found: definitely-not-a-real-command-xyz")
	assert.NoDirExists(t, e.stateDir)
}

func TestExplain(t *testing.T) {
	e := newTestEnv(t)

	res := e.run("--explain", "--window", "1h", "--", "echo", "hi")
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "hi\n", res.stdout)
	assert.Contains(t, res.stderr, "  mode      : window 1h\n")
	assert.Contains(t, res.stderr, "  decision  : ran\n")
	assert.Contains(t, res.stderr, "  reason    : no previous successful run\n")
}

func TestConfigFile(t *testing.T) {
	e := newTestEnv(t)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("default_period: hour\nlog_format: json\n"), 0o600))

	res := e.run("--config", cfgPath, "--explain", "--", "echo", "hi")
	require.Equal(t, 0, res.code, res.stderr)

	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stderr), &rep), res.stderr)
	assert.Equal(t, "period hour", rep["mode"])
	assert.Equal(t, "2025-03-10T12", rep["bucket"])
	assert.DirExists(t, filepath.Join(e.stateDir, "periods", "2025-03-10T12"))
}

func TestMissingConfigFileIsAnError(t *testing.T) {
	e := newTestEnv(t)

	res := e.run("--config", filepath.Join(t.TempDir(), "nope.yaml"), "--", "echo", "hi")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "read config")
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	c := newCLI(strings.NewReader(""), &stdout, &stderr, nil)

	assert.Equal(t, 0, c.run([]string{"version"}))
	assert.Contains(t, stdout.String(), "once 0.1.0-dev\n")

	stdout.Reset()
	c = newCLI(strings.NewReader(""), &stdout, &stderr, nil)
	assert.Equal(t, 0, c.run([]string{"version", "--json"}))
	var info versionInfo
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &info))
	assert.Equal(t, "0.1.0-dev", info.Version)
}

func TestVersionAfterDashIsACommand(t *testing.T) {
	e := newTestEnv(t)

	res := e.run("--dry-run", "--", "version")
	// "version" is looked up on PATH, not run as the subcommand.
	assert.NotContains(t, res.stdout, "once 0.1.0-dev")
}

func TestDoctor(t *testing.T) {
	e := newTestEnv(t)

	require.Equal(t, 0, e.run("--window", "1h", "--", "echo", "hi").code)

	res := e.run("doctor")
	assert.Equal(t, 0, res.code, res.stdout)
	assert.Contains(t, res.stdout, "State:  "+e.stateDir)
	assert.Contains(t, res.stdout, "Configuration valid")

	res = e.run("doctor", "--json")
	assert.Equal(t, 0, res.code)
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, true, report["valid"])
}

func TestDoctorInvalidConfig(t *testing.T) {
	e := newTestEnv(t)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("hash: md5\n"), 0o600))

	res := e.run("--config", cfgPath, "doctor")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "Configuration invalid")
	assert.Contains(t, res.stdout, "ERROR [config]")
	assert.Contains(t, res.stdout, "md5")

	res = e.run("--config", cfgPath, "doctor", "--json")
	assert.Equal(t, 1, res.code)
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report), res.stdout)
	assert.Equal(t, false, report["valid"])
	errs, ok := report["errors"].([]any)
	require.True(t, ok, res.stdout)
	require.NotEmpty(t, errs)
	first := errs[0].(map[string]any)
	assert.Equal(t, "config", first["category"])
	assert.Contains(t, first["message"], "md5")
}

func TestHelpListsPeriods(t *testing.T) {
	var stdout, stderr bytes.Buffer
	c := newCLI(strings.NewReader(""), &stdout, &stderr, nil)

	assert.Equal(t, 0, c.run([]string{"--help"}))
	assert.Contains(t, stdout.String(), "hour|day|week|month")
}
