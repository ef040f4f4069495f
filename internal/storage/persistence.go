// Package storage holds the external collaborators: durable room/recording
// bookkeeping and final-artifact publishing. Failures here never block the
// live signaling or recording flow; callers log and continue.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RoomRecord mirrors the rooms table.
type RoomRecord struct {
	ID                  int64      `gorm:"primaryKey"`
	Name                string     `gorm:"column:name"`
	HostID              int64      `gorm:"column:host_id"`
	RoomID              string     `gorm:"column:room_id"`
	AllowedParticipants int        `gorm:"column:number_of_allowed_participants"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	EndedAt             *time.Time `gorm:"column:ended_at"`
	IsActive            bool       `gorm:"column:is_active"`
	CurrentParticipants int        `gorm:"column:current_participants"`
}

func (RoomRecord) TableName() string { return "room" }

// RecordingRecord mirrors the recordings table.
type RecordingRecord struct {
	ID                 int64      `gorm:"primaryKey"`
	RecordingURL       *string    `gorm:"column:recording_url"`
	RoomID             int64      `gorm:"column:room_id"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	RecordingCreatedAt *time.Time `gorm:"column:recording_created_at"`
	RecordingLength    *string    `gorm:"column:recording_length"`
}

func (RecordingRecord) TableName() string { return "recordings" }

// Persistence is the durable bookkeeping contract consumed by the core.
type Persistence interface {
	LookupRoom(ctx context.Context, key string) (*RoomRecord, error)
	MarkRoomEnded(ctx context.Context, key string, endedAt time.Time) (*RoomRecord, error)
	IncrementParticipants(ctx context.Context, key string) error
	DecrementParticipants(ctx context.Context, key string) error
	RecordFinalized(ctx context.Context, roomRef int64, url, durationText string) error
}

type postgresStore struct {
	db *gorm.DB
}

// NewPostgres opens the Postgres-backed persistence gateway.
func NewPostgres(dsn string) (Persistence, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &postgresStore{db: db}, nil
}

func (s *postgresStore) LookupRoom(ctx context.Context, key string) (*RoomRecord, error) {
	var room RoomRecord
	err := s.db.WithContext(ctx).Where("room_id = ?", key).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup room %s: %w", key, err)
	}
	return &room, nil
}

func (s *postgresStore) MarkRoomEnded(ctx context.Context, key string, endedAt time.Time) (*RoomRecord, error) {
	res := s.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("room_id = ?", key).
		Updates(map[string]any{"ended_at": endedAt, "is_active": false})
	if res.Error != nil {
		return nil, fmt.Errorf("end room %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return s.LookupRoom(ctx, key)
}

func (s *postgresStore) IncrementParticipants(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("room_id = ?", key).
		UpdateColumn("current_participants", gorm.Expr("current_participants + 1")).Error
	if err != nil {
		return fmt.Errorf("increment participants for %s: %w", key, err)
	}
	return nil
}

func (s *postgresStore) DecrementParticipants(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("room_id = ?", key).
		UpdateColumn("current_participants", gorm.Expr("current_participants - 1")).Error
	if err != nil {
		return fmt.Errorf("decrement participants for %s: %w", key, err)
	}
	return nil
}

func (s *postgresStore) RecordFinalized(ctx context.Context, roomRef int64, url, durationText string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&RecordingRecord{}).
		Where("room_id = ?", roomRef).
		Updates(map[string]any{
			"recording_url":        url,
			"recording_created_at": now,
			"recording_length":     durationText,
		}).Error
	if err != nil {
		return fmt.Errorf("finalize recording for room ref %d: %w", roomRef, err)
	}
	return nil
}

// NopPersistence is used when no database is configured. Every call
// succeeds without effect.
type NopPersistence struct{}

func (NopPersistence) LookupRoom(context.Context, string) (*RoomRecord, error) { return nil, nil }

func (NopPersistence) MarkRoomEnded(_ context.Context, key string, _ time.Time) (*RoomRecord, error) {
	log.Debug().Str("module", "storage.persistence").Str("room", key).Msg("no database configured, skipping room end")
	return nil, nil
}

func (NopPersistence) IncrementParticipants(context.Context, string) error { return nil }
func (NopPersistence) DecrementParticipants(context.Context, string) error { return nil }

func (NopPersistence) RecordFinalized(context.Context, int64, string, string) error { return nil }
