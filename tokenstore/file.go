package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend stores values as one JSON object in a file on disk.
// Writes are serialized across processes with a lock file and land through
// a temp-file rename, so a reader sees either the old or the new file.
type FileBackend struct {
	path string
}

// NewFileBackend returns a FileBackend writing to path. The parent directory
// is created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the file the backend writes to.
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Get(key string) (string, error) {
	values, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileBackend) Set(key, value string) error {
	return f.update(func(values map[string]string) {
		values[key] = value
	})
}

func (f *FileBackend) Remove(key string) error {
	return f.update(func(values map[string]string) {
		delete(values, key)
	})
}

// load reads the whole file. A missing file is an empty store.
func (f *FileBackend) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	return values, nil
}

func (f *FileBackend) update(mutate func(map[string]string)) (err error) {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	release, err := newLockFile(f.path).acquire()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, release())
	}()

	// Load inside the lock so concurrent writers merge instead of clobbering
	values, err := f.load()
	if err != nil {
		// A corrupt file is replaced rather than wedging every later write
		values = make(map[string]string)
	}
	mutate(values)

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
