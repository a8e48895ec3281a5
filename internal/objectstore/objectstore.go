// Package objectstore stores generated images on the local filesystem and
// serves them over HTTP.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/howard-nolan/cardforge/internal/card"
)

// Store keeps each object at <dir>/<namespace>/<path>.
type Store struct {
	dir     string
	baseURL string
}

var _ card.ObjectStore = (*Store)(nil)

// New returns a store rooted at dir whose objects are published under
// baseURL, for example http://localhost:8080/objects.
func New(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating object dir: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *Store) objectFile(namespace, objectPath string) (string, error) {
	rel := path.Join(namespace, objectPath)
	if namespace == "" || objectPath == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("invalid object path %q", rel)
	}
	return filepath.Join(s.dir, filepath.FromSlash(rel)), nil
}

// Upload writes data, replacing any existing object. The content type is
// implied by the path's extension when the object is served.
func (s *Store) Upload(ctx context.Context, namespace, objectPath string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.objectFile(namespace, objectPath)
	if err != nil {
		return err
	}
	rel := path.Join(namespace, objectPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating object dir: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp object: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing object %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing object %s: %w", rel, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("writing object %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("storing object %s: %w", rel, err)
	}
	return nil
}

// Delete removes an object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, namespace, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.objectFile(namespace, objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting object %s: %w", path.Join(namespace, objectPath), err)
	}
	return nil
}

// PublicURL returns where the object can be fetched once uploaded.
func (s *Store) PublicURL(namespace, objectPath string) string {
	segments := strings.Split(path.Join(namespace, objectPath), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/")
}

// Handler serves stored objects. Mount it with the URL prefix stripped.
// Directory listings are refused.
func (s *Store) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
