package stamp

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/once/internal/mode"
)

// Entry is a marker found on disk.
type Entry struct {
	Kind    mode.Kind
	Bucket  string
	Token   string
	Path    string
	ModTime time.Time
}

// Scan lists every marker below the root, plus temp files left behind by a
// MarkNow that never reached its rename. A missing root yields nothing.
func (s *Store) Scan() (entries []Entry, leftovers []string, err error) {
	for _, sub := range []string{periodsDir, windowsDir} {
		base := filepath.Join(s.root, sub)
		walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == base && errors.Is(err, fs.ErrNotExist) {
					return fs.SkipDir
				}
				return err
			}
			if d.IsDir() {
				return nil
			}

			name := d.Name()
			if strings.HasPrefix(name, ".") && strings.Contains(name, suffix+".tmp-") {
				leftovers = append(leftovers, path)
				return nil
			}
			if !strings.HasSuffix(name, suffix) {
				return nil
			}

			info, err := d.Info()
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			e := Entry{
				Token:   strings.TrimSuffix(name, suffix),
				Path:    path,
				ModTime: info.ModTime(),
			}
			if sub == windowsDir {
				e.Kind = mode.KindWindow
			} else {
				e.Kind = mode.KindPeriod
				e.Bucket = filepath.Base(filepath.Dir(path))
			}
			entries = append(entries, e)
			return nil
		})
		if walkErr != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", sub, walkErr)
		}
	}
	return entries, leftovers, nil
}
