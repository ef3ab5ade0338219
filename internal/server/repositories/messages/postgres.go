// Package messages provides the PostgreSQL-backed envelope store.
package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/dbx"
	"github.com/dmitrijs2005/securechat/internal/server/models"
)

// PostgresRepository implements envelope storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, sender_id, scope, recipient_id, content_type, content, wrapped_key,
		file_storage_key, file_original_name, file_mime_type, file_size, created_at`

// Save inserts msg. msg.ID must be set by the caller; CreatedAt is filled
// from the database clock.
func (r *PostgresRepository) Save(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, sender_id, scope, recipient_id, content_type, content, wrapped_key,
			file_storage_key, file_original_name, file_mime_type, file_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	var storageKey, originalName, mimeType sql.NullString
	var size sql.NullInt64
	if msg.File != nil {
		storageKey = sql.NullString{String: msg.File.StorageKey, Valid: true}
		originalName = sql.NullString{String: msg.File.OriginalName, Valid: true}
		mimeType = sql.NullString{String: msg.File.MimeType, Valid: true}
		size = sql.NullInt64{Int64: msg.File.Size, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		msg.ID, msg.SenderID, string(msg.Scope), msg.RecipientID, string(msg.ContentType),
		msg.Ciphertext, msg.WrappedKey, storageKey, originalName, mimeType, size,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns the envelope or common.ErrNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + selectColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return msg, nil
}

// ListPersonal returns up to limit personal messages exchanged between
// userID and contactID in either direction, newest first.
func (r *PostgresRepository) ListPersonal(ctx context.Context, userID, contactID string, limit int) ([]*models.Message, error) {
	query := `SELECT ` + selectColumns + ` FROM messages
		WHERE scope = 'PERSONAL'
		  AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		ORDER BY created_at DESC
		LIMIT $3`

	return r.list(ctx, query, userID, contactID, limit)
}

// ListGroup returns up to limit messages sent to groupID, newest first.
func (r *PostgresRepository) ListGroup(ctx context.Context, groupID string, limit int) ([]*models.Message, error) {
	query := `SELECT ` + selectColumns + ` FROM messages
		WHERE scope = 'GROUP' AND recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	return r.list(ctx, query, groupID, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		msg                                models.Message
		scope, contentType                 string
		storageKey, originalName, mimeType sql.NullString
		size                               sql.NullInt64
	)

	err := row.Scan(&msg.ID, &msg.SenderID, &scope, &msg.RecipientID, &contentType,
		&msg.Ciphertext, &msg.WrappedKey, &storageKey, &originalName, &mimeType, &size, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	msg.Scope = models.Scope(scope)
	msg.ContentType = models.ContentType(contentType)
	if storageKey.Valid {
		msg.File = &models.FileMeta{
			StorageKey:   storageKey.String,
			OriginalName: originalName.String,
			MimeType:     mimeType.String,
			Size:         size.Int64,
		}
	}
	return &msg, nil
}
