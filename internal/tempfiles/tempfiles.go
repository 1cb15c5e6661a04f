package tempfiles

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned when a stream exceeds the allowed size.
var ErrTooLarge = errors.New("stream exceeds maximum size")

// Create makes a temp file in the provided directory, creating the directory if needed.
func Create(dir string, pattern string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir %q: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// WriteAtomic copies at most maxSize bytes of r into dir/name. Readers of the
// destination never observe a partial file: the data goes to a temp file in
// the same directory and is renamed into place once complete.
func WriteAtomic(dir, name string, r io.Reader, maxSize int64) (int64, error) {
	f, err := Create(dir, ".upload-*")
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	n, err := io.Copy(f, io.LimitReader(r, maxSize+1))
	if err != nil {
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	if n > maxSize {
		return 0, ErrTooLarge
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(f.Name(), filepath.Join(dir, name)); err != nil {
		_ = os.Remove(f.Name())
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return n, nil
}
