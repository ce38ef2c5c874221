package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Buckets accepted for uploads.
var Buckets = map[string]bool{
	"avatars":          true,
	"audio":            true,
	"welcome-media":    true,
	"auto-reply-media": true,
}

var ErrInvalidPath = errors.New("invalid storage path")

// Storage stores an object and returns the URL it is publicly served from.
type Storage interface {
	Upload(ctx context.Context, objectPath string, r io.Reader) (string, error)
}

// LocalStorage writes objects under Dir and serves them under PublicBaseURL.
type LocalStorage struct {
	Dir           string
	PublicBaseURL string
}

func NewLocalStorage(dir, publicBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStorage{Dir: dir, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *LocalStorage) Upload(ctx context.Context, objectPath string, r io.Reader) (string, error) {
	clean := path.Clean("/" + objectPath)[1:]
	if clean == "" || clean == "." || strings.HasPrefix(clean, "..") {
		return "", ErrInvalidPath
	}

	target := filepath.Join(s.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("failed to create object dir: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: r}); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	return s.PublicBaseURL + "/" + clean, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
