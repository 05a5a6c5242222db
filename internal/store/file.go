package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore keeps one pretty-printed JSON file per analysis in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// on first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Save implements Store. An existing analysis with the same name is replaced.
func (s *FileStore) Save(ctx context.Context, req SaveRequest) (string, error) {
	sum, err := validateSave(req)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("FileStore.Save: create %s: %w", s.dir, err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, req.Analysis, "", "  "); err != nil {
		return "", fmt.Errorf("FileStore.Save: format analysis: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".save-*")
	if err != nil {
		return "", fmt.Errorf("FileStore.Save: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return "", fmt.Errorf("FileStore.Save: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("FileStore.Save: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("FileStore.Save: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, sum.FileName)); err != nil {
		return "", fmt.Errorf("FileStore.Save: rename: %w", err)
	}
	return sum.FileName, nil
}

// List implements Store. A missing directory lists as empty.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FileStore.List: read %s: %w", s.dir, err)
	}

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		sum, err := ParseFileName(e.Name())
		if err != nil {
			continue
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, fileName string) (*Saved, error) {
	sum, err := ParseFileName(fileName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, fileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileName)
	}
	if err != nil {
		return nil, fmt.Errorf("FileStore.Get: read %s: %w", fileName, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("FileStore.Get: %s is not valid JSON", fileName)
	}
	return &Saved{Summary: sum, Analysis: data}, nil
}

var _ Store = (*FileStore)(nil)
