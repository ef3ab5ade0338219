// Package envelopes converts between plaintext submissions and the sealed
// message records kept in the database and object storage.
package envelopes

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/cryptox"
	"github.com/dmitrijs2005/securechat/internal/server/blobs"
	"github.com/dmitrijs2005/securechat/internal/server/models"
	"github.com/google/uuid"
)

// MessageStore persists message records.
type MessageStore interface {
	Save(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
}

// Draft is a message that has not been sealed yet.
type Draft struct {
	SenderID    string
	Scope       models.Scope
	RecipientID string
	ContentType models.ContentType
	Plaintext   []byte // PLAIN content
	File        *FileDraft
}

// FileDraft is the content of a FILE message.
type FileDraft struct {
	Name     string
	MimeType string
	Data     []byte
}

type Store struct {
	messages MessageStore
	engine   *cryptox.Engine
	blobs    blobs.Store
}

func NewStore(messages MessageStore, engine *cryptox.Engine, blobStore blobs.Store) *Store {
	return &Store{messages: messages, engine: engine, blobs: blobStore}
}

// Save seals the draft and persists it. It returns only after the record
// is stored.
func (s *Store) Save(ctx context.Context, d Draft) (*models.Message, error) {
	msg, err := s.Seal(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := s.messages.Save(ctx, msg); err != nil {
		err = fmt.Errorf("save message: %w", err)
		if derr := s.Discard(ctx, msg); derr != nil {
			return nil, errors.Join(err, derr)
		}
		return nil, err
	}
	return msg, nil
}

// Discard removes the object storage blob of a sealed FILE record that
// was never persisted. It is a no-op for PLAIN records.
func (s *Store) Discard(ctx context.Context, msg *models.Message) error {
	if msg.ContentType != models.ContentFile || msg.File == nil {
		return nil
	}
	if err := s.blobs.Delete(ctx, msg.File.StorageKey); err != nil {
		return fmt.Errorf("discard file %s: %w", msg.ID, err)
	}
	return nil
}

// Seal validates and seals the draft without persisting the record, for
// callers that store it inside their own transaction. File content is
// uploaded to object storage here.
func (s *Store) Seal(ctx context.Context, d Draft) (*models.Message, error) {
	if err := validate(d); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:          uuid.NewString(),
		SenderID:    d.SenderID,
		Scope:       d.Scope,
		RecipientID: d.RecipientID,
		ContentType: d.ContentType,
	}

	switch d.ContentType {
	case models.ContentPlain:
		ct, wk, err := s.engine.SealForStorage(d.Plaintext)
		if err != nil {
			return nil, fmt.Errorf("seal message: %w", err)
		}
		msg.Ciphertext, msg.WrappedKey = ct, wk

	case models.ContentFile:
		ct, wk, err := s.engine.SealFile(d.File.Data)
		if err != nil {
			return nil, fmt.Errorf("seal file: %w", err)
		}
		key := blobs.NewStorageKey()
		if err := s.blobs.Put(ctx, key, ct); err != nil {
			return nil, err
		}
		// the content itself lives in the blob
		msg.Ciphertext = []byte{}
		msg.WrappedKey = wk
		msg.File = &models.FileMeta{
			StorageKey:   key,
			OriginalName: d.File.Name,
			MimeType:     d.File.MimeType,
			Size:         int64(len(d.File.Data)),
		}
	}
	return msg, nil
}

// Load returns the stored record or common.ErrNotFound.
func (s *Store) Load(ctx context.Context, id string) (*models.Message, error) {
	return s.messages.GetByID(ctx, id)
}

// Plaintext opens a PLAIN record. FILE records are rejected with
// common.ErrInvalidContentType.
func (s *Store) Plaintext(msg *models.Message) ([]byte, error) {
	if msg.ContentType != models.ContentPlain {
		return nil, fmt.Errorf("%w: message %s is %s", common.ErrInvalidContentType, msg.ID, msg.ContentType)
	}
	return s.engine.OpenForStorageOwner(msg.Ciphertext, msg.WrappedKey)
}

// FileContent fetches and opens the blob of a FILE record.
func (s *Store) FileContent(ctx context.Context, msg *models.Message) ([]byte, error) {
	if msg.ContentType != models.ContentFile || msg.File == nil {
		return nil, fmt.Errorf("%w: message %s is %s", common.ErrInvalidContentType, msg.ID, msg.ContentType)
	}

	sealed, err := s.blobs.Get(ctx, msg.File.StorageKey)
	if err != nil {
		return nil, err
	}
	return s.engine.OpenFile(sealed, msg.WrappedKey)
}

func validate(d Draft) error {
	switch {
	case d.SenderID == "":
		return fmt.Errorf("%w: sender is required", common.ErrValidation)
	case d.RecipientID == "":
		return fmt.Errorf("%w: recipient is required", common.ErrValidation)
	case d.Scope != models.ScopePersonal && d.Scope != models.ScopeGroup:
		return fmt.Errorf("%w: unknown scope %q", common.ErrValidation, d.Scope)
	}

	switch d.ContentType {
	case models.ContentPlain:
		if len(d.Plaintext) == 0 {
			return fmt.Errorf("%w: message content is required", common.ErrValidation)
		}
	case models.ContentFile:
		if d.File == nil || d.File.Name == "" {
			return fmt.Errorf("%w: file name is required", common.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown content type %q", common.ErrValidation, d.ContentType)
	}
	return nil
}
