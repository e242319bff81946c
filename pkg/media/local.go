package media

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gravewhisper/gravewhisper/pkg/config"
	"github.com/gravewhisper/gravewhisper/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

var _ Storage = (*LocalStorage)(nil)

// LocalStorage writes uploads into a directory and serves them back.
type LocalStorage struct {
	log    logrus.FieldLogger
	dir    string
	prefix string
	owner  *fsutil.OwnerConfig
}

// NewLocalStorage creates the upload directory when missing.
func NewLocalStorage(
	log logrus.FieldLogger,
	cfg *config.LocalMediaConfig,
) (*LocalStorage, error) {
	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing media owner: %w", err)
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving upload dir: %w", err)
	}

	if err := fsutil.MkdirAll(dir, 0o755, owner); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	prefix := strings.TrimRight(cfg.PublicPrefix, "/")
	if prefix == "" {
		prefix = "/uploads"
	}

	return &LocalStorage{
		log:    log.WithField("component", "local-media"),
		dir:    dir,
		prefix: prefix,
		owner:  owner,
	}, nil
}

// Put writes data to a new file. An existing name is never overwritten.
func (l *LocalStorage) Put(
	_ context.Context, name, _ string, data []byte,
) (string, error) {
	if !isAllowedName(name) {
		return "", fmt.Errorf("name %q is not allowed", name)
	}

	full := filepath.Join(l.dir, name)

	if err := fsutil.WriteNewFile(full, data, 0o644, l.owner); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}

	l.log.WithFields(logrus.Fields{
		"name":  name,
		"bytes": len(data),
	}).Debug("Stored upload")

	return l.prefix + "/" + name, nil
}

// Prefix is the public URL prefix the files are served under.
func (l *LocalStorage) Prefix() string {
	return l.prefix
}

// ServeFile serves the upload with the given name. It returns an error
// when the name is disallowed or no such file exists.
func (l *LocalStorage) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	name string,
) error {
	if !isAllowedName(name) {
		return fmt.Errorf("path %q is not allowed", name)
	}

	full := filepath.Join(l.dir, name)

	if !strings.HasPrefix(full, l.dir+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes the upload dir", name)
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return fmt.Errorf("file %q not found", name)
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, r, full)

	return nil
}

// isAllowedName accepts a single clean path element.
func isAllowedName(name string) bool {
	if name == "" || name == "." {
		return false
	}

	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}

	return path.Clean(name) == name
}
