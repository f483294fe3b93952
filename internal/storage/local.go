package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalService keeps objects as files in one directory served under urlPrefix.
type LocalService struct {
	dir       string
	urlPrefix string
}

func NewLocalService(dir, urlPrefix string) *LocalService {
	return &LocalService{
		dir:       filepath.Clean(dir),
		urlPrefix: urlPrefix,
	}
}

func (s *LocalService) Put(ctx context.Context, key string, body []byte, _ string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after rename

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod %s: %w", key, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, key)); err != nil {
		return "", fmt.Errorf("move %s into place: %w", key, err)
	}

	return joinURL(s.urlPrefix, key), nil
}

func (s *LocalService) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	var objects []ObjectInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		mod := info.ModTime()
		objects = append(objects, ObjectInfo{
			Key:          name,
			Size:         info.Size(),
			LastModified: &mod,
		})
	}
	return objects, nil
}

func (s *LocalService) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(s.dir, key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

var _ Service = (*LocalService)(nil)
