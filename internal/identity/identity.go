// Package identity derives the stable identity of a command invocation.
//
// An Identity is the tuple (executable path, argument vector, working
// directory, extra key). Its canonical serialization is hashed by a
// digest.Provider into the token that keys every stamp and lock.
package identity

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattjoyce/once/internal/digest"
)

// ErrCommandNotFound is returned when a bare command name is not on PATH.
var ErrCommandNotFound = errors.New("command not found")

// Identity is immutable once resolved.
type Identity struct {
	ExecutablePath string
	Args           []string
	WorkingDir     string
	ExtraKey       string
}

// Canonical returns the serialization that is hashed into the token.
// Each argument is length-prefixed so that ["a b"] and ["a", "b"] differ.
func (id Identity) Canonical() string {
	var args strings.Builder
	for i, a := range id.Args {
		if i > 0 {
			args.WriteByte(',')
		}
		args.WriteString(strconv.Itoa(len(a)))
		args.WriteByte(':')
		args.WriteString(a)
	}

	return strings.Join([]string{
		"exe=" + id.ExecutablePath,
		"args=" + args.String(),
		"cwd=" + id.WorkingDir,
		"extra=" + id.ExtraKey,
	}, "\n")
}

// Token hashes the canonical serialization with p.
func (id Identity) Token(p digest.Provider) string {
	return p.Sum([]byte(id.Canonical()))
}

// Resolved pairs an identity with its token and the provider that produced it.
type Resolved struct {
	Identity
	Token string
	Hash  string
}

// Resolver turns what the caller typed into an Identity.
type Resolver struct {
	Digest   digest.Provider
	Getwd    func() (string, error)
	LookPath func(file string) (string, error)
}

// NewResolver returns a Resolver bound to the process environment.
func NewResolver(p digest.Provider) *Resolver {
	if p == nil {
		p = digest.SHA256
	}
	return &Resolver{
		Digest:   p,
		Getwd:    os.Getwd,
		LookPath: exec.LookPath,
	}
}

// Resolve resolves rawExe to an absolute path, captures the working directory
// and hashes the result. Tokens containing a path separator are joined with
// the working directory and cleaned; symlinks are deliberately not followed,
// so two links to the same binary are two identities.
func (r *Resolver) Resolve(rawExe string, args []string, extraKey string) (*Resolved, error) {
	if strings.TrimSpace(rawExe) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrCommandNotFound)
	}

	cwd, err := r.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	if !filepath.IsAbs(cwd) {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return nil, fmt.Errorf("resolve working directory %q: %w", cwd, err)
		}
		cwd = abs
	}
	cwd = filepath.Clean(cwd)

	exePath, err := r.resolveExecutable(rawExe, cwd)
	if err != nil {
		return nil, err
	}

	id := Identity{
		ExecutablePath: exePath,
		Args:           append([]string(nil), args...),
		WorkingDir:     cwd,
		ExtraKey:       extraKey,
	}
	return &Resolved{
		Identity: id,
		Token:    id.Token(r.Digest),
		Hash:     r.Digest.Name(),
	}, nil
}

func (r *Resolver) resolveExecutable(rawExe, cwd string) (string, error) {
	if strings.ContainsRune(rawExe, '/') || strings.ContainsRune(rawExe, filepath.Separator) {
		if filepath.IsAbs(rawExe) {
			return filepath.Clean(rawExe), nil
		}
		return filepath.Join(cwd, rawExe), nil
	}

	found, err := r.LookPath(rawExe)
	if err != nil {
		// exec.ErrDot means PATH contains "." and matched; still a valid hit.
		if errors.Is(err, exec.ErrDot) && found != "" {
			return filepath.Join(cwd, found), nil
		}
		return "", fmt.Errorf("%w: %s", ErrCommandNotFound, rawExe)
	}
	if !filepath.IsAbs(found) {
		return filepath.Join(cwd, found), nil
	}
	return filepath.Clean(found), nil
}
