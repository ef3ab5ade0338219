// Package models defines server-side data models persisted in the database.
package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/securechat/internal/common"
)

// Scope tells whether a message targets one peer or a group.
type Scope string

const (
	ScopePersonal Scope = "PERSONAL"
	ScopeGroup    Scope = "GROUP"
)

// ContentType tells how the content of a message is stored.
type ContentType string

const (
	// ContentPlain content lives in Message.Ciphertext as a storage envelope.
	ContentPlain ContentType = "PLAIN"
	// ContentFile content lives in object storage, sealed with a per-file key.
	ContentFile ContentType = "FILE"
)

// ParseScope validates a scope received from a client.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopePersonal, ScopeGroup:
		return Scope(s), nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", common.ErrValidation, s)
}

// ParseContentType validates a content type received from a client. An
// empty value means PLAIN.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(s) {
	case "":
		return ContentPlain, nil
	case ContentPlain, ContentFile:
		return ContentType(s), nil
	}
	return "", fmt.Errorf("%w: unknown content type %q", common.ErrValidation, s)
}

// Message is the at-rest envelope of one message. It is immutable once
// stored. Ciphertext is never plaintext and WrappedKey opens only with the
// server master key.
type Message struct {
	ID          string
	SenderID    string
	Scope       Scope
	RecipientID string // peer user id or group id, depending on Scope
	ContentType ContentType
	Ciphertext  []byte
	WrappedKey  []byte
	File        *FileMeta // set for ContentFile only
	CreatedAt   time.Time
}

// FileMeta describes an encrypted blob in object storage.
type FileMeta struct {
	StorageKey   string `json:"-"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
}

// Summary is what the submit path hands to the delivery path: the stored
// envelope identity without any content.
type Summary struct {
	ID          string
	SenderID    string
	Scope       Scope
	RecipientID string
	ContentType ContentType
	CreatedAt   time.Time
}

// Summary strips content from m.
func (m *Message) Summary() Summary {
	return Summary{
		ID:          m.ID,
		SenderID:    m.SenderID,
		Scope:       m.Scope,
		RecipientID: m.RecipientID,
		ContentType: m.ContentType,
		CreatedAt:   m.CreatedAt,
	}
}
