package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"keyforge/pkg/contracts/domain"
)

// SQLite stores records in a local SQLite file through gorm
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers
	sqlDB.SetMaxOpenConns(1)

	return &SQLite{db: db}, nil
}

// Migrate creates or updates the keys and users tables
func (s *SQLite) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&domain.KeyRecord{}, &domain.UserRecord{})
}

func gormError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CallError{Op: op, Kind: FailureTimeout, Err: err}
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return &CallError{Op: op, Kind: FailureQuery, Err: fmt.Errorf("%w: %v", ErrDuplicate, err)}
	default:
		return &CallError{Op: op, Kind: FailureQuery, Err: err}
	}
}

func (s *SQLite) CreateKey(ctx context.Context, rec domain.KeyRecord) error {
	rec.CreatedAt = rec.CreatedAt.UTC()
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return gormError("create_key", err)
	}
	return nil
}

func (s *SQLite) QueryKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.KeyRecord, error) {
	var recs []domain.KeyRecord
	err := s.db.WithContext(ctx).
		Where(&domain.KeyRecord{Key: filter.Key}).
		Order("created_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, gormError("query_keys", err)
	}
	for i := range recs {
		recs[i].CreatedAt = recs[i].CreatedAt.UTC()
	}
	return recs, nil
}

func (s *SQLite) PatchKey(ctx context.Context, key string, patch domain.KeyPatch) error {
	err := s.db.WithContext(ctx).
		Model(&domain.KeyRecord{}).
		Where(&domain.KeyRecord{Key: key}).
		Update("used", patch.Used).Error
	if err != nil {
		return gormError("patch_key", err)
	}
	return nil
}

func (s *SQLite) DeleteKey(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where(&domain.KeyRecord{Key: key}).
		Delete(&domain.KeyRecord{}).Error
	if err != nil {
		return gormError("delete_key", err)
	}
	return nil
}

func (s *SQLite) CreateUser(ctx context.Context, rec domain.UserRecord) error {
	rec.RegisteredAt = rec.RegisteredAt.UTC()
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return gormError("create_user", err)
	}
	return nil
}

func (s *SQLite) QueryUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserRecord, error) {
	var recs []domain.UserRecord
	err := s.db.WithContext(ctx).
		Where(&domain.UserRecord{UserID: filter.UserID, HWID: filter.HWID}).
		Order("registered_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, gormError("query_users", err)
	}
	for i := range recs {
		recs[i].RegisteredAt = recs[i].RegisteredAt.UTC()
	}
	return recs, nil
}

func (s *SQLite) DeleteUser(ctx context.Context, hwid string) error {
	err := s.db.WithContext(ctx).
		Where(&domain.UserRecord{HWID: hwid}).
		Delete(&domain.UserRecord{}).Error
	if err != nil {
		return gormError("delete_user", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &CallError{Op: "ping", Kind: FailureTransport, Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &CallError{Op: "ping", Kind: FailureTransport, Err: err}
	}
	return nil
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
