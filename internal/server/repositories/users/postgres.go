// Package users provides the PostgreSQL-backed user directory.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/dbx"
	"github.com/dmitrijs2005/securechat/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user or common.ErrNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT id, username, public_key, online, created_at FROM users
		 WHERE id = $1
		 `

	user := &models.User{}
	var publicKey sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.UserName, &publicKey, &user.Online, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	user.PublicKey = publicKey.String

	return user, nil
}

// GetPublicKey returns the armored key of the user, "" when the user never
// did a key exchange, or common.ErrNotFound for an unknown user.
func (r *PostgresRepository) GetPublicKey(ctx context.Context, id string) (string, error) {
	query := `SELECT public_key FROM users WHERE id = $1`

	var publicKey sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&publicKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}

	return publicKey.String, nil
}

// SetPublicKey stores the armored key of an existing user.
func (r *PostgresRepository) SetPublicKey(ctx context.Context, id string, publicKey string) error {
	query := `UPDATE users SET public_key = $2 WHERE id = $1`
	return r.execOne(ctx, query, id, publicKey)
}

// SetOnline records the presence flag shown to other users.
func (r *PostgresRepository) SetOnline(ctx context.Context, id string, online bool) error {
	query := `UPDATE users SET online = $2 WHERE id = $1`
	return r.execOne(ctx, query, id, online)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
