package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// Bookmarks looks up the stored bookmark blob of a track
type Bookmarks interface {
	Bookmark(ctx context.Context, trackID int64) ([]byte, error)
}

// Resource is a resolved local file
type Resource struct {
	Path string

	// Bookmarked is set when the path came from a stored bookmark
	Bookmarked bool

	// Stale is set when the bookmark resolved but the file changed since it was made
	Stale bool
}

// bookmark is the stored form of a user-granted file reference
type bookmark struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"modTime"`
}

// NewBookmark captures a bookmark blob for path
func NewBookmark(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(bookmark{Path: abs, Size: info.Size(), ModTime: info.ModTime().UnixNano()})
}

// FileURI returns the file:// URI for a local path
func FileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// Resolver maps items to resources
type Resolver struct {
	sandbox   []string
	bookmarks Bookmarks
	logger    logrus.FieldLogger
}

// NewResolver creates a resolver trusting files under sandboxDirs
func NewResolver(sandboxDirs []string, bookmarks Bookmarks, logger logrus.FieldLogger) *Resolver {
	dirs := make([]string, 0, len(sandboxDirs))
	for _, d := range sandboxDirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		dirs = append(dirs, filepath.Clean(abs))
	}
	return &Resolver{sandbox: dirs, bookmarks: bookmarks, logger: logger}
}

// SandboxDirs returns the trusted directories
func (r *Resolver) SandboxDirs() []string {
	return append([]string(nil), r.sandbox...)
}

// Resolve produces a resource for item or a *MissingError. A stored bookmark
// wins over the raw URI; a raw URI must be a local file under the sandbox.
func (r *Resolver) Resolve(ctx context.Context, item types.PlaybackItem) (Resource, error) {
	if item.ID > 0 && r.bookmarks != nil {
		blob, err := r.bookmarks.Bookmark(ctx, item.ID)
		if err != nil {
			r.logger.WithError(err).WithField("track_id", item.ID).Warn("Bookmark lookup failed")
		}
		if len(blob) > 0 {
			return r.resolveBookmark(blob, item.Key().String())
		}
	}

	path, err := parseFileURI(item.FileURI)
	if err != nil {
		return Resource{}, missing(types.MissingInvalidURI, item.FileURI, err)
	}
	if !r.inSandbox(path) {
		return Resource{}, missing(types.MissingPermission, path, errors.New("outside library"))
	}
	return Resource{Path: path}, nil
}

// Probe resolves item and checks the file is readable without opening a decoder
func (r *Resolver) Probe(ctx context.Context, item types.PlaybackItem) (Resource, error) {
	res, err := r.Resolve(ctx, item)
	if err != nil {
		return res, err
	}
	if _, err := os.Stat(res.Path); err != nil {
		return res, classify(res.Path, err)
	}
	return res, nil
}

func (r *Resolver) resolveBookmark(blob []byte, target string) (Resource, error) {
	var b bookmark
	if err := json.Unmarshal(blob, &b); err != nil {
		return Resource{}, missing(types.MissingPermission, target, fmt.Errorf("unreadable bookmark: %w", err))
	}
	if b.Path == "" {
		return Resource{}, missing(types.MissingPermission, target, errors.New("bookmark has no path"))
	}

	info, err := os.Stat(b.Path)
	if err != nil {
		return Resource{}, missing(types.MissingPermission, b.Path, fmt.Errorf("bookmark did not resolve: %w", err))
	}

	stale := info.Size() != b.Size || info.ModTime().UnixNano() != b.ModTime
	if stale {
		r.logger.WithField("path", b.Path).Debug("Using stale bookmark")
	}
	return Resource{Path: b.Path, Bookmarked: true, Stale: stale}, nil
}

func (r *Resolver) inSandbox(path string) bool {
	for _, dir := range r.sandbox {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}

// parseFileURI accepts file:// URIs and absolute paths
func parseFileURI(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty uri")
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("non-local host %q", u.Host)
	}
	if u.Path == "" {
		return "", errors.New("empty path")
	}
	return filepath.Clean(filepath.FromSlash(u.Path)), nil
}

func classify(path string, err error) *MissingError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return missing(types.MissingNotFound, path, err)
	case errors.Is(err, fs.ErrPermission):
		return missing(types.MissingPermission, path, err)
	default:
		return missing(types.MissingNotFound, path, err)
	}
}
