package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/clawinfra/applytrack/internal/actions"
)

// FileStore keeps the action list in a single JSON file. Writes go to a
// sibling temp file and are renamed into place.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on the
// first save.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(_ context.Context) ([]actions.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	list, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode queue file: %w", err)
	}
	return list, nil
}

func (f *FileStore) Save(_ context.Context, list []actions.Action) error {
	data, err := encode(list)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Close() error { return nil }
