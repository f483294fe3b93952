package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Service stores uploaded files and hands back a reference browsers can load.
type Service interface {
	// Put writes body under key, replacing any existing object, and returns its public reference.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, keys ...string) error
}

// validateKey keeps keys flat so they cannot escape the storage root.
func validateKey(key string) error {
	if key == "" || key == "." || key == ".." {
		return fmt.Errorf("invalid object key %q", key)
	}
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("object key %q must not contain path separators", key)
	}
	return nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
