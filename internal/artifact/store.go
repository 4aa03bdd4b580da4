// Package artifact manages the on-disk artifact store: one directory per job
// or payload under the configured data root, streaming writes for uploaded
// files, zip bundling of outputs, and the base64 codec used by the legacy
// jobd wire format.
package artifact

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// writeBufferSize is the buffer used when streaming uploaded files to disk.
const writeBufferSize = 1 << 20 // 1 MiB

// Store is rooted at the data path and hands out per-job directories.
type Store struct {
	root string
}

// NewStore creates the data root if needed and returns a Store over it.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create data root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the data root path.
func (s *Store) Root() string { return s.root }

// NewJobDir creates a fresh job directory named by a new UUID and returns its
// absolute path. The directory exists when this returns.
func (s *Store) NewJobDir() (string, error) {
	loc := filepath.Join(s.root, uuid.NewString())
	if err := os.MkdirAll(loc, 0o755); err != nil {
		return "", fmt.Errorf("artifact: create job dir: %w", err)
	}
	return loc, nil
}

// PayloadDir creates (if needed) and returns the staging directory for a
// payload id. Client-side directories are keyed by the decimal id rather
// than a UUID so the runner and retrieve handler can find them by row alone.
func (s *Store) PayloadDir(id int64) (string, error) {
	loc := filepath.Join(s.root, strconv.FormatInt(id, 10))
	if err := os.MkdirAll(loc, 0o755); err != nil {
		return "", fmt.Errorf("artifact: create payload dir: %w", err)
	}
	return loc, nil
}

// SaveFile streams src into dst through a 1 MiB buffer and flushes to disk
// before returning. Upload handlers use this so large files never sit fully
// in memory.
func SaveFile(dst string, src io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("artifact: create %s: %w", dst, err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, writeBufferSize)
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("artifact: write %s: %w", dst, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("artifact: flush %s: %w", dst, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("artifact: sync %s: %w", dst, err)
	}
	return nil
}

// RemoveDir removes a job or payload directory recursively.
func RemoveDir(loc string) error {
	if err := os.RemoveAll(loc); err != nil {
		return fmt.Errorf("artifact: remove %s: %w", loc, err)
	}
	return nil
}
