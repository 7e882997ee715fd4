// Package doctor checks the wrapper's configuration and state directory.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/once/internal/config"
	"github.com/mattjoyce/once/internal/lock"
	"github.com/mattjoyce/once/internal/stamp"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor inspects a configuration and the state directory it points at.
// It never modifies stamps or locks.
type Doctor struct {
	cfg    *config.Config
	locks  *lock.Manager
	stamps *stamp.Store
	now    func() time.Time
}

// New creates a Doctor for cfg. now defaults to time.Now.
func New(cfg *config.Config, now func() time.Time) *Doctor {
	if now == nil {
		now = time.Now
	}
	return &Doctor{
		cfg:    cfg,
		locks:  lock.NewManager(cfg.StateDir),
		stamps: stamp.NewStore(cfg.StateDir, now),
		now:    now,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	if d.validateStateDir(r) {
		d.warnLockFilesystem(r)
		d.warnLeftoverLocks(r)
		d.warnStamps(r)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig reports every field-level problem separately.
func (d *Doctor) validateConfig(r *Result) {
	err := d.cfg.Validate()
	if err == nil {
		return
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			d.addError(r, "config", "", e.Error())
		}
		return
	}
	d.addError(r, "config", "", err.Error())
}

// validateStateDir checks the state root exists (or can be created), is
// private and is writable. It returns false when later checks are pointless.
func (d *Doctor) validateStateDir(r *Result) bool {
	dir := d.cfg.StateDir
	if dir == "" {
		return false
	}
	if !filepath.IsAbs(dir) {
		d.addWarning(r, "state", "state_dir",
			fmt.Sprintf("state_dir %q is relative; stamps will depend on the caller's working directory", dir))
	}

	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		d.addWarning(r, "state", "state_dir",
			fmt.Sprintf("state_dir %q does not exist yet; it is created on first run", dir))
		return false
	}
	if err != nil {
		d.addError(r, "state", "state_dir", fmt.Sprintf("cannot stat state_dir: %v", err))
		return false
	}
	if !info.IsDir() {
		d.addError(r, "state", "state_dir", fmt.Sprintf("state_dir %q is not a directory", dir))
		return false
	}
	if info.Mode().Perm()&0o077 != 0 {
		d.addWarning(r, "state", "state_dir",
			fmt.Sprintf("state_dir has mode %04o; other users can see which commands ran", info.Mode().Perm()))
	}

	probe, err := os.CreateTemp(dir, ".doctor-")
	if err != nil {
		d.addError(r, "state", "state_dir", fmt.Sprintf("state_dir is not writable: %v", err))
		return false
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return true
}

func (d *Doctor) warnLockFilesystem(r *Result) {
	if err := d.locks.FilesystemError(); err != nil {
		d.addWarning(r, "locks", "state_dir", err.Error())
	}
}

// warnLeftoverLocks flags lock files no live process holds. They are
// harmless but indicate a wrapper that was killed mid-run.
func (d *Doctor) warnLeftoverLocks(r *Result) {
	entries, err := d.locks.List()
	if err != nil {
		d.addError(r, "locks", "", err.Error())
		return
	}
	for _, e := range entries {
		if e.Held {
			continue
		}
		msg := "lock file is not held by any process"
		if e.Holder.PID > 0 {
			msg = fmt.Sprintf("lock file left by pid %d is not held by any process", e.Holder.PID)
		}
		d.addWarning(r, "locks", e.Path, msg)
	}
}

// warnStamps flags window stamps dated in the future and interrupted writes.
func (d *Doctor) warnStamps(r *Result) {
	entries, leftovers, err := d.stamps.Scan()
	if err != nil {
		d.addError(r, "stamps", "", err.Error())
		return
	}
	now := d.now()
	for _, e := range entries {
		if e.ModTime.After(now) {
			d.addWarning(r, "stamps", e.Path,
				fmt.Sprintf("stamp time %s is in the future; it is treated as never run", e.ModTime.Format(time.RFC3339)))
		}
	}
	for _, path := range leftovers {
		d.addWarning(r, "stamps", path, "temporary file from an interrupted stamp write")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
