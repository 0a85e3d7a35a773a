package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tillpoint/posadmin/internal/encryption"
)

// associatedData binds sealed files to this store format.
var associatedData = []byte("posadmin-storage-v1")

// File is a durable store kept as a single JSON object on disk. When an AEAD
// is supplied the file contents are sealed.
type File struct {
	mu   sync.Mutex
	path string
	aead encryption.AEAD
}

type FileOption func(*File)

// WithAEAD seals the file contents with the given AEAD.
func WithAEAD(a encryption.AEAD) FileOption {
	return func(f *File) {
		f.aead = a
	}
}

func NewFile(path string, opts ...FileOption) *File {
	f := &File{path: path}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DefaultPath returns the store location inside the user configuration
// directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "posadmin", "storage.json"), nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return "", false, err
	}

	v, ok := values[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		// an unreadable store is replaced rather than blocking new writes
		log.Warn().Err(err).Str("path", f.path).Msg("discarding unreadable token store")
		values = map[string]string{}
	}

	values[key] = value
	return f.write(values)
}

func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		log.Warn().Err(err).Str("path", f.path).Msg("discarding unreadable token store")
		values = map[string]string{}
	}

	delete(values, key)
	if len(values) == 0 {
		err := os.Remove(f.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove token store: %w", err)
		}
		return nil
	}

	return f.write(values)
}

func (f *File) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token store: %w", err)
	}

	if f.aead != nil {
		data, err = f.aead.Decrypt(data, associatedData)
		if err != nil {
			return nil, fmt.Errorf("failed to open token store: %w", err)
		}
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse token store: %w", err)
	}

	return values, nil
}

func (f *File) write(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal token store: %w", err)
	}

	if f.aead != nil {
		data, err = f.aead.Encrypt(data, associatedData)
		if err != nil {
			return fmt.Errorf("failed to seal token store: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".storage-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict store permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token store: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token store: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace token store: %w", err)
	}

	return nil
}
