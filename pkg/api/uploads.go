package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gravewhisper/gravewhisper/pkg/media"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
	"github.com/sirupsen/logrus"
)

const (
	// multipartOverhead leaves room for boundaries and headers on top of
	// the file ceiling.
	multipartOverhead = 1 << 20
	minDataURL        = 10
	maxDataURL        = 10_000_000
)

// handleUploadVideo accepts a public mp4 or webm upload, limited per IP.
func (s *server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	actor := actorFor(r)

	limited, err := s.overQuota(r.Context(), "submission_upload_video",
		actor.IP, "", s.cfg.Server.RateLimit.VideoUploads)
	if err != nil {
		s.writeError(w, err, "Failed to check upload quota")

		return
	}

	if limited {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate_limited"})

		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.sizes.Video+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{"too_large"})

			return
		}

		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

		return
	}
	defer func() { _ = file.Close() }()

	if header.Size <= 0 || header.Size > s.sizes.Video {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{"too_large"})

		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.sizes.Video+1))
	if err != nil {
		s.writeError(w, err, "Failed to read video upload")

		return
	}

	declared := strings.ToLower(header.Header.Get("Content-Type"))

	video, err := media.ValidateVideo(declared, data, s.sizes.Video)
	if errors.Is(err, media.ErrInvalidMedia) {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_video"})

		return
	} else if err != nil {
		s.writeError(w, err, "Failed to validate video")

		return
	}

	name := media.RandomName(string(video.Kind))

	publicPath, err := s.media.Put(r.Context(), name, video.Mime, data)
	if err != nil {
		s.writeError(w, err, "Failed to store video")

		return
	}

	s.record(r, actor, workflow.Event{
		Action:     "submission_upload_video",
		EntityType: "File",
		EntityID:   name,
		Metadata: map[string]any{
			"publicPath": publicPath,
			"bytes":      len(data),
			"mime":       video.Mime,
			"ip":         actor.IP,
			"userAgent":  actor.UserAgent,
		},
	})

	writeJSON(w, http.StatusOK, map[string]string{"path": publicPath})
}

type uploadImageRequest struct {
	DataURL string `json:"dataUrl"`
}

// handleUploadImage stores an admin supplied image given as a data URL,
// limited per admin and IP.
func (s *server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	s.uploadImage(w, r, "upload_image", true)
}

// handleSubmissionUploadImage stores a submission thumbnail given as a
// data URL, limited per IP.
func (s *server) handleSubmissionUploadImage(w http.ResponseWriter, r *http.Request) {
	s.uploadImage(w, r, "submission_upload_image", false)
}

func (s *server) uploadImage(
	w http.ResponseWriter, r *http.Request, action string, perAdmin bool,
) {
	actor := actorFor(r)

	quotaAdmin := ""
	if perAdmin {
		quotaAdmin = actor.AdminUserID
	}

	limited, err := s.overQuota(r.Context(), action,
		actor.IP, quotaAdmin, s.cfg.Server.RateLimit.ImageUploads)
	if err != nil {
		s.writeError(w, err, "Failed to check upload quota")

		return
	}

	if limited {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate_limited"})

		return
	}

	var req uploadImageRequest
	if err := decodeJSON(w, r, maxDataURL+multipartOverhead, &req); err != nil ||
		len(req.DataURL) < minDataURL || len(req.DataURL) > maxDataURL {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

		return
	}

	declared, data, err := media.ParseDataURL(req.DataURL)

	var img *media.Image
	if err == nil {
		img, err = media.ValidateImage(declared, data, media.ImageLimits{
			MaxBytes:     s.sizes.Image,
			MaxDimension: s.cfg.Media.MaxImageDim,
			MaxPixels:    s.cfg.Media.MaxImagePixels,
		})
	}

	if errors.Is(err, media.ErrInvalidMedia) {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_image"})

		return
	} else if err != nil {
		s.writeError(w, err, "Failed to validate image")

		return
	}

	name := media.RandomName(string(img.Kind))

	publicPath, err := s.media.Put(r.Context(), name, img.Mime, data)
	if err != nil {
		s.writeError(w, err, "Failed to store image")

		return
	}

	metadata := map[string]any{
		"publicPath": publicPath,
		"bytes":      len(data),
		"width":      img.Width,
		"height":     img.Height,
		"mime":       img.Mime,
	}

	if !perAdmin {
		metadata["ip"] = actor.IP
		metadata["userAgent"] = actor.UserAgent
	}

	s.record(r, actor, workflow.Event{
		Action:     action,
		EntityType: "File",
		EntityID:   name,
		Metadata:   metadata,
	})

	s.log.WithFields(logrus.Fields{
		"action": action,
		"path":   publicPath,
		"bytes":  len(data),
	}).Info("Image uploaded")

	writeJSON(w, http.StatusOK, map[string]string{"path": publicPath})
}
