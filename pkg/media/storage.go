package media

import (
	"context"
	"errors"

	"github.com/gravewhisper/gravewhisper/pkg/config"
	"github.com/sirupsen/logrus"
)

// Storage persists uploaded media and returns the public path or URL of
// the stored object.
type Storage interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// NewStorage returns the enabled storage backend.
func NewStorage(log logrus.FieldLogger, cfg *config.MediaConfig) (Storage, error) {
	switch {
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocalStorage(log, cfg.Local)
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3Storage(log, cfg.S3), nil
	default:
		return nil, errors.New("no media storage backend enabled")
	}
}
