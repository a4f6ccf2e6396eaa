package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileBackend stores each key as a file in a private directory.
type FileBackend struct {
	baseDir string
}

// NewFileBackend creates a file backend rooted at baseDir.
// If baseDir is empty, uses ~/.pipeline-console/
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".pipeline-console")
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("file credential backend initialized")

	return &FileBackend{baseDir: baseDir}, nil
}

func (f *FileBackend) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(f.baseDir, key+".json"), nil
}

func (f *FileBackend) Get(key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	return data, nil
}

// Set writes the value atomically through a temp file and rename.
func (f *FileBackend) Set(key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	tempPath := p + ".tmp"
	if err := os.WriteFile(tempPath, value, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	if err := os.Rename(tempPath, p); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	return nil
}

func (f *FileBackend) Delete(key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}

	return nil
}
