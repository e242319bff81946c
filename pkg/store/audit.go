package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// AuditMetadata encodes m as the JSON metadata of an audit entry. A nil
// or empty map yields no metadata.
func AuditMetadata(m map[string]any) datatypes.JSON {
	if len(m) == 0 {
		return nil
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}

	return datatypes.JSON(raw)
}

// AppendAudit writes an audit entry. Entries are never updated or deleted.
func (s *store) AppendAudit(ctx context.Context, entry *AuditLog) error {
	if err := s.conn(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("appending audit log: %w", err)
	}

	return nil
}

// CountRecentAudit counts entries newer than q.Since matching the
// non-empty fields of q.
func (s *store) CountRecentAudit(ctx context.Context, q AuditQuery) (int64, error) {
	db := s.conn(ctx).
		Model(&AuditLog{}).
		Where("created_at >= ?", q.Since.UTC())

	if q.Action != "" {
		db = db.Where("action = ?", q.Action)
	}

	if q.IP != "" {
		db = db.Where("ip = ?", q.IP)
	}

	if q.AdminUserID != "" {
		db = db.Where("admin_user_id = ?", q.AdminUserID)
	}

	var n int64
	if err := db.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting audit logs: %w", err)
	}

	return n, nil
}

// ListAudit returns the most recent entries, newest first.
func (s *store) ListAudit(ctx context.Context, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []AuditLog
	if err := s.conn(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}

	return entries, nil
}
