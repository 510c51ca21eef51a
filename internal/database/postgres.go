package database

import (
	"context"
	"errors"
	"fmt"

	"redis-chat/internal/models"
	"redis-chat/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const usersSchema = `
CREATE TABLE IF NOT EXISTS chat_users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash BYTEA NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresUsers is a UserRepository for deployments that keep accounts in
// Postgres while chat state stays in Redis.
type PostgresUsers struct {
	pool *pgxpool.Pool
}

func NewPostgresUsers(ctx context.Context, databaseURL string) (*PostgresUsers, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w: %w", models.ErrStoreUnavailable, err)
	}

	if _, err := pool.Exec(ctx, usersSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate users table: %w", err)
	}

	logger.Info("[postgres] Connected to user database successfully")
	return &PostgresUsers{pool: pool}, nil
}

func (db *PostgresUsers) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresUsers) CreateUser(ctx context.Context, username string, passwordHash []byte) (*models.User, error) {
	query := `
		INSERT INTO chat_users (username, password_hash, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id`

	var id int64
	if err := db.pool.QueryRow(ctx, query, username, passwordHash).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, models.ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w: %w", models.ErrStoreUnavailable, err)
	}

	return &models.User{ID: models.UserID(id), Username: username, PasswordHash: passwordHash}, nil
}

func (db *PostgresUsers) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, password_hash FROM chat_users WHERE username = $1`
	return db.scanUser(ctx, query, username)
}

func (db *PostgresUsers) GetUserByID(ctx context.Context, id models.UserID) (*models.User, error) {
	query := `SELECT id, username, password_hash FROM chat_users WHERE id = $1`
	return db.scanUser(ctx, query, int64(id))
}

func (db *PostgresUsers) scanUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	var id int64
	err := db.pool.QueryRow(ctx, query, arg).Scan(&id, &user.Username, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w: %w", models.ErrStoreUnavailable, err)
	}
	user.ID = models.UserID(id)
	return user, nil
}
