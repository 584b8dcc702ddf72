// services/gateway/internal/core/journal.go
package core

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CommandStore is the command journal. Every relay attempt is recorded so
// delivery state survives restarts and unacknowledged commands can be
// redelivered.
type CommandStore interface {
	Create(ctx context.Context, record *CommandRecord) error
	MarkAcknowledged(ctx context.Context, commandID string) error
	MarkRedelivered(ctx context.Context, commandID string) error
	ListUnacknowledged(ctx context.Context, limit int) ([]*CommandRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*CommandRecord, error)
}

type commandStore struct {
	db *gorm.DB
}

// NewCommandStore creates a gorm-backed command journal.
func NewCommandStore(db *gorm.DB) CommandStore {
	return &commandStore{db: db}
}

func (s *commandStore) Create(ctx context.Context, record *CommandRecord) error {
	return s.db.WithContext(ctx).Create(record).Error
}

func (s *commandStore) MarkAcknowledged(ctx context.Context, commandID string) error {
	return s.db.WithContext(ctx).Model(&CommandRecord{}).
		Where("command_id = ?", commandID).
		Updates(map[string]interface{}{
			"status":   CommandStatusAcknowledged,
			"acked_at": time.Now().UTC(),
		}).Error
}

func (s *commandStore) MarkRedelivered(ctx context.Context, commandID string) error {
	return s.db.WithContext(ctx).Model(&CommandRecord{}).
		Where("command_id = ?", commandID).
		Update("status", CommandStatusRedelivered).Error
}

func (s *commandStore) ListUnacknowledged(ctx context.Context, limit int) ([]*CommandRecord, error) {
	var records []*CommandRecord
	q := s.db.WithContext(ctx).Where("status = ?", CommandStatusSent).Order("sent_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return records, q.Find(&records).Error
}

func (s *commandStore) ListRecent(ctx context.Context, limit int) ([]*CommandRecord, error) {
	var records []*CommandRecord
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return records, q.Find(&records).Error
}
