package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const itemExt = ".json"

// Dir implements Backend with one file per name in a directory.
type Dir struct {
	dir string
	mu  sync.Mutex
}

// NewDir creates a Dir backend rooted at dir. The directory is created on the first write.
func NewDir(dir string) *Dir {
	return &Dir{dir: dir}
}

// Root returns the backend directory.
func (d *Dir) Root() string {
	return d.dir
}

// Path returns the file that holds name.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.dir, url.PathEscape(name)+itemExt)
}

// NameFromPath maps a file path back to the stored name. ok is false for
// files this backend did not write.
func (d *Dir) NameFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, itemExt) {
		return "", false
	}
	name, err := url.PathUnescape(strings.TrimSuffix(base, itemExt))
	if err != nil {
		return "", false
	}
	return name, true
}

// GetItem reads the file for name. A missing file is reported as ok=false.
func (d *Dir) GetItem(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(d.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// SetItem writes value atomically: temp file, fsync, rename.
func (d *Dir) SetItem(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return writeAtomic(d.dir, d.Path(name), []byte(value))
}

// RemoveItem deletes the file for name.
func (d *Dir) RemoveItem(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(d.Path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Names lists stored names in sorted order.
func (d *Dir) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := d.NameFromPath(e.Name()); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func writeAtomic(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
