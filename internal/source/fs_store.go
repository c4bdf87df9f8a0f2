package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// NewFSStore 以本地目录作为原图来源，目录必须已存在。
func NewFSStore(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("source path required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat source path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path %s is not a directory", abs)
	}
	return &fsStore{dir: abs}, nil
}

type fsStore struct {
	dir string
}

func (s *fsStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, baseName(entry.Name()))
	}
	return sortedNames(names), nil
}

func (s *fsStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath := filepath.Join(s.dir, name+Ext)
	if filepath.Dir(filePath) != s.dir {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return f, nil
}
