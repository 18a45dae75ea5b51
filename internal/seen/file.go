package seen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// FileBackend stores the id set as a JSON array in a single file,
// rewritten atomically (temp file + rename) after each admission.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend writing to path. The parent directory
// must exist.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) Load(ctx context.Context) ([]string, error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("parse %s: %w", b.path, err)
	}
	return ids, nil
}

// Append rewrites the whole file; the file is the snapshot.
func (b *FileBackend) Append(ctx context.Context, id string, snapshot []string) error {
	return b.Save(ctx, snapshot)
}

func (b *FileBackend) Save(ctx context.Context, snapshot []string) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".seen-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}
