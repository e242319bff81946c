package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gravewhisper/gravewhisper/pkg/backup"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
)

const toolsPage = "/admin/tools"

// handleDBBackup streams the database file as an attachment.
func (s *server) handleDBBackup(w http.ResponseWriter, r *http.Request) {
	data, err := s.backup.Snapshot()
	if err != nil {
		s.writeError(w, err, "Failed to snapshot database")

		return
	}

	s.record(r, actorFor(r), workflow.Event{
		Action:     "db_backup_download",
		EntityType: "Database",
		EntityID:   filepath.Base(s.backup.Path()),
		Metadata:   map[string]any{"bytes": len(data)},
	})

	w.Header().Set("Content-Type", "application/x-sqlite3")
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+backup.Filename(s.now())+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).Warn("Failed to write backup response")
	}
}

// handleDBStatus reports the database file and disk usage.
func (s *server) handleDBStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.backup.Status(r.Context())
	if errors.Is(err, backup.ErrUnsupportedDriver) {
		writeJSON(w, http.StatusOK, map[string]any{
			"driver":    s.store.Driver(),
			"supported": false,
		})

		return
	} else if err != nil {
		s.writeError(w, err, "Failed to read database status")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"driver":    s.store.Driver(),
		"supported": true,
		"database":  status,
	})
}

// handleRestore replaces the database with an uploaded sqlite file and
// reopens the store.
func (s *server) handleRestore(w http.ResponseWriter, r *http.Request) {
	defer http.Redirect(w, r, toolsPage, http.StatusSeeOther)

	log := s.log.WithField("action", "db_restore")

	r.Body = http.MaxBytesReader(w, r.Body, s.sizes.Database+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		log.WithError(err).Warn("Restore upload rejected")

		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, s.sizes.Database+1))
	if err != nil {
		log.WithError(err).Warn("Failed to read restore upload")

		return
	}

	if err := s.backup.Restore(data); err != nil {
		log.WithError(err).Warn("Restore rejected")

		return
	}

	if err := s.store.Reload(r.Context()); err != nil {
		log.WithError(err).Error("Failed to reopen database after restore")

		return
	}

	s.record(r, actorFor(r), workflow.Event{
		Action:     "db_restore",
		EntityType: "Database",
		EntityID:   filepath.Base(s.backup.Path()),
		Metadata:   map[string]any{"bytes": len(data), "originalName": header.Filename},
	})
}
