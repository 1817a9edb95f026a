package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"keyforge/internal/store/migrations"
	"keyforge/pkg/contracts/domain"
)

const pgUniqueViolation = "23505"

// Postgres stores records in PostgreSQL through the pgx database/sql driver
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an existing connection pool
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// gooseUpContext is a seam for testing goose.UpContext
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded goose migrations
func (p *Postgres) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, p.db, ".")
}

func queryError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Op: op, Kind: FailureTimeout, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &CallError{Op: op, Kind: FailureQuery, Err: fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Detail)}
	}
	return &CallError{Op: op, Kind: FailureQuery, Err: err}
}

func (p *Postgres) CreateKey(ctx context.Context, rec domain.KeyRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO keys (key, created_at, used) VALUES ($1, $2, $3)`,
		rec.Key, rec.CreatedAt.UTC(), rec.Used)
	if err != nil {
		return queryError("create_key", err)
	}
	return nil
}

func (p *Postgres) QueryKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.KeyRecord, error) {
	query := `SELECT key, created_at, used FROM keys`
	var args []any
	if filter.Key != "" {
		query += ` WHERE key = $1`
		args = append(args, filter.Key)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError("query_keys", err)
	}
	defer rows.Close()

	var recs []domain.KeyRecord
	for rows.Next() {
		var rec domain.KeyRecord
		if err := rows.Scan(&rec.Key, &rec.CreatedAt, &rec.Used); err != nil {
			return nil, &CallError{Op: "query_keys", Kind: FailureDecode, Err: err}
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("query_keys", err)
	}
	return recs, nil
}

func (p *Postgres) PatchKey(ctx context.Context, key string, patch domain.KeyPatch) error {
	_, err := p.db.ExecContext(ctx, `UPDATE keys SET used = $1 WHERE key = $2`, patch.Used, key)
	if err != nil {
		return queryError("patch_key", err)
	}
	return nil
}

func (p *Postgres) DeleteKey(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM keys WHERE key = $1`, key)
	if err != nil {
		return queryError("delete_key", err)
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, rec domain.UserRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (user_id, cookies, hwid, key, registered_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.UserID, rec.Cookies, rec.HWID, rec.Key, rec.RegisteredAt.UTC())
	if err != nil {
		return queryError("create_user", err)
	}
	return nil
}

func (p *Postgres) QueryUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserRecord, error) {
	query := `SELECT user_id, cookies, hwid, key, registered_at FROM users WHERE 1 = 1`
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if filter.HWID != "" {
		args = append(args, filter.HWID)
		query += fmt.Sprintf(` AND hwid = $%d`, len(args))
	}
	query += ` ORDER BY registered_at ASC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError("query_users", err)
	}
	defer rows.Close()

	var recs []domain.UserRecord
	for rows.Next() {
		var rec domain.UserRecord
		if err := rows.Scan(&rec.UserID, &rec.Cookies, &rec.HWID, &rec.Key, &rec.RegisteredAt); err != nil {
			return nil, &CallError{Op: "query_users", Kind: FailureDecode, Err: err}
		}
		rec.RegisteredAt = rec.RegisteredAt.UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("query_users", err)
	}
	return recs, nil
}

func (p *Postgres) DeleteUser(ctx context.Context, hwid string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE hwid = $1`, hwid)
	if err != nil {
		return queryError("delete_user", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return &CallError{Op: "ping", Kind: FailureTransport, Err: err}
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
