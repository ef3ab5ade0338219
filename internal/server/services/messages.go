// Package services contains server-side business logic. MessageService
// accepts messages, stores them as sealed envelopes, acknowledges them to
// the sender and fans them out to the live connections of the recipients.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/cryptox"
	"github.com/dmitrijs2005/securechat/internal/dbx"
	"github.com/dmitrijs2005/securechat/internal/logging"
	"github.com/dmitrijs2005/securechat/internal/ratelimit"
	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/dmitrijs2005/securechat/internal/server/envelopes"
	"github.com/dmitrijs2005/securechat/internal/server/fanout"
	"github.com/dmitrijs2005/securechat/internal/server/keys"
	"github.com/dmitrijs2005/securechat/internal/server/metrics"
	"github.com/dmitrijs2005/securechat/internal/server/models"
	"github.com/dmitrijs2005/securechat/internal/server/presence"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/repomanager"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Components are the collaborators of MessageService.
type Components struct {
	Keys       *keys.Directory
	Engine     *cryptox.Engine
	Envelopes  *envelopes.Store
	Dispatcher *fanout.Dispatcher
	Presence   *presence.Registry
	Limiter    *ratelimit.MapLimiter // nil disables rate limiting
	Metrics    *metrics.Metrics
	Logger     logging.Logger
}

type MessageService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager

	keys       *keys.Directory
	engine     *cryptox.Engine
	envelopes  *envelopes.Store
	dispatcher *fanout.Dispatcher
	presence   *presence.Registry
	limiter    *ratelimit.MapLimiter
	metrics    *metrics.Metrics
	log        logging.Logger

	deliveries sync.WaitGroup
}

func NewMessageService(db *sql.DB, m repomanager.RepositoryManager, c Components) *MessageService {
	return &MessageService{
		db:          db,
		repomanager: m,
		keys:        c.Keys,
		engine:      c.Engine,
		envelopes:   c.Envelopes,
		dispatcher:  c.Dispatcher,
		presence:    c.Presence,
		limiter:     c.Limiter,
		metrics:     c.Metrics,
		log:         c.Logger.With("module", "message_service"),
	}
}

// Submission is a message as received from a client, already opened.
type Submission struct {
	TempID      string
	SenderID    string
	Scope       models.Scope
	RecipientID string
	ContentType models.ContentType
	Plaintext   []byte
	File        *envelopes.FileDraft
}

// KeyExchange registers the public key of userID and returns the server
// public key.
func (s *MessageService) KeyExchange(ctx context.Context, userID, armoredPublicKey string) (string, error) {
	return s.keys.KeyExchange(ctx, userID, armoredPublicKey)
}

// OpenInbound returns content as is, or opens it with the server private
// key when the client sealed it for the server.
func (s *MessageService) OpenInbound(content []byte, sealed bool) ([]byte, error) {
	if !sealed {
		return content, nil
	}
	return s.engine.OpenFromSender(content)
}

// SubmitMessage validates, seals and stores one message. It does not
// deliver it; see DeliverIfOnline.
func (s *MessageService) SubmitMessage(ctx context.Context, senderID string, scope models.Scope, recipientID string,
	plaintext []byte, contentType models.ContentType) (models.Summary, error) {
	sub := Submission{
		SenderID:    senderID,
		Scope:       scope,
		RecipientID: recipientID,
		ContentType: contentType,
		Plaintext:   plaintext,
	}
	if contentType == models.ContentFile {
		sub.File = &envelopes.FileDraft{Name: "attachment", MimeType: "application/octet-stream", Data: plaintext}
		sub.Plaintext = nil
	}

	msg, err := s.submit(ctx, sub)
	if err != nil {
		return models.Summary{}, err
	}
	return msg.Summary(), nil
}

// Send submits the message, starts its fanout in the background and
// returns the acknowledgment sealed for the sender. Once the message is
// stored Send does not fail; an ack that cannot be sealed is returned
// without payload. The fanout outlives
// ctx: a sender that disconnects does not cancel it.
func (s *MessageService) Send(ctx context.Context, sub Submission) (*rpc.Event, error) {
	msg, err := s.submit(ctx, sub)
	if err != nil {
		return nil, err
	}

	summary := msg.Summary()
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		s.DeliverIfOnline(context.WithoutCancel(ctx), summary)
	}()

	ev := eventFor(msg)
	ev.TempID = sub.TempID

	// the message is stored; from here on Send reports success
	ack, err := s.acknowledge(ctx, msg, sub.Plaintext, ev)
	if err != nil {
		s.log.Warn(ctx, "cannot seal acknowledgment", "message_id", msg.ID, "user_id", msg.SenderID, "error", err)
		ev.Type = rpc.EventMessageSent
		return &ev, nil
	}
	return ack, nil
}

func (s *MessageService) acknowledge(ctx context.Context, msg *models.Message, plaintext []byte, ev rpc.Event) (*rpc.Event, error) {
	payload, err := messagePayload(msg, plaintext)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.Acknowledge(ctx, msg.SenderID, payload, ev)
}

// DeliverIfOnline loads the stored message and fans it out to the online
// recipients. Failures are logged; the report is returned for callers that
// want it.
func (s *MessageService) DeliverIfOnline(ctx context.Context, summary models.Summary) *fanout.Report {
	msg, err := s.envelopes.Load(ctx, summary.ID)
	if err != nil {
		s.log.Error(ctx, "cannot load message for delivery", "message_id", summary.ID, "error", err)
		return &fanout.Report{MessageID: summary.ID, State: fanout.StateFailed, Err: err}
	}

	payload, err := s.storedPayload(msg)
	if err != nil {
		s.log.Error(ctx, "cannot open message for delivery", "message_id", summary.ID, "error", err)
		return &fanout.Report{MessageID: summary.ID, State: fanout.StateFailed, Err: err}
	}

	report := s.dispatcher.Dispatch(ctx, fanout.Outbound{
		Summary:   msg.Summary(),
		Plaintext: payload,
		Event:     eventFor(msg),
	})
	s.log.Debug(ctx, "fanout finished", "message_id", summary.ID, "state", report.State)
	return report
}

// Wait blocks until background deliveries started by Send are finished.
func (s *MessageService) Wait() {
	s.deliveries.Wait()
}

// History returns the personal messages between userID and contactID,
// newest first, each sealed for userID.
func (s *MessageService) History(ctx context.Context, userID, contactID string, limit int) ([]*rpc.Event, error) {
	if contactID == "" {
		return nil, fmt.Errorf("%w: contact is required", common.ErrValidation)
	}

	key, err := s.keys.GetPublicKey(ctx, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.repomanager.Messages(s.db).ListPersonal(ctx, userID, contactID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return s.sealAll(msgs, key)
}

// GroupHistory returns the messages of groupID, newest first, each sealed
// for userID. Only members may read it.
func (s *MessageService) GroupHistory(ctx context.Context, userID, groupID string, limit int) ([]*rpc.Event, error) {
	if groupID == "" {
		return nil, fmt.Errorf("%w: group is required", common.ErrValidation)
	}

	members, err := s.repomanager.Groups(s.db).MembersOf(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", groupID, err)
	}
	if !slices.Contains(members, userID) {
		return nil, fmt.Errorf("%w: %s is not a member of %s", common.ErrUnauthorized, userID, groupID)
	}

	key, err := s.keys.GetPublicKey(ctx, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.repomanager.Messages(s.db).ListGroup(ctx, groupID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list group messages: %w", err)
	}
	return s.sealAll(msgs, key)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

// sealAll re-seals stored messages for the holder of armoredKey.
func (s *MessageService) sealAll(msgs []*models.Message, armoredKey string) ([]*rpc.Event, error) {
	result := make([]*rpc.Event, 0, len(msgs))
	for _, msg := range msgs {
		payload, err := s.storedPayload(msg)
		if err != nil {
			return nil, fmt.Errorf("open message %s: %w", msg.ID, err)
		}
		sealed, err := s.engine.SealForRecipient(payload, armoredKey)
		if err != nil {
			return nil, err
		}
		ev := eventFor(msg)
		ev.Payload = sealed
		result = append(result, &ev)
	}
	return result, nil
}

// DownloadFile returns the metadata and the content of a FILE message,
// the content sealed for userID. Only the two parties of a personal
// message and the members of the group of a group message may download.
func (s *MessageService) DownloadFile(ctx context.Context, userID, messageID string) (*models.FileMeta, []byte, error) {
	msg, err := s.envelopes.Load(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if msg.ContentType != models.ContentFile || msg.File == nil {
		return nil, nil, fmt.Errorf("%w: message %s is not a file", common.ErrInvalidContentType, messageID)
	}
	if err := s.authorizeRead(ctx, userID, msg); err != nil {
		return nil, nil, err
	}

	key, err := s.keys.GetPublicKey(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.envelopes.FileContent(ctx, msg)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(data)

	sealed, err := s.engine.SealForRecipient(data, key)
	if err != nil {
		return nil, nil, err
	}
	return msg.File, sealed, nil
}

func (s *MessageService) submit(ctx context.Context, sub Submission) (*models.Message, error) {
	if !s.limiter.Allow(sub.SenderID, time.Now()) {
		s.metrics.RateLimited()
		return nil, common.ErrRateLimited
	}
	if sub.SenderID == "" {
		return nil, fmt.Errorf("%w: sender is required", common.ErrValidation)
	}
	if _, err := s.keys.GetPublicKey(ctx, sub.SenderID); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	if err := s.checkTarget(ctx, sub.SenderID, sub.Scope, sub.RecipientID); err != nil {
		return nil, err
	}

	msg, err := s.envelopes.Seal(ctx, envelopes.Draft{
		SenderID:    sub.SenderID,
		Scope:       sub.Scope,
		RecipientID: sub.RecipientID,
		ContentType: sub.ContentType,
		Plaintext:   sub.Plaintext,
		File:        sub.File,
	})
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Messages(tx).Save(ctx, msg); err != nil {
			return fmt.Errorf("save message: %w", err)
		}
		if msg.Scope != models.ScopePersonal || msg.SenderID == msg.RecipientID {
			return nil
		}
		contacts := s.repomanager.Contacts(tx)
		if _, err := contacts.EnsureContact(ctx, msg.SenderID, msg.RecipientID); err != nil {
			return fmt.Errorf("add contact: %w", err)
		}
		added, err := contacts.EnsureContact(ctx, msg.RecipientID, msg.SenderID)
		if err != nil {
			return fmt.Errorf("add reverse contact: %w", err)
		}
		if added {
			s.log.Info(ctx, "contact added", "user_id", msg.RecipientID, "contact_id", msg.SenderID)
		}
		return nil
	})
	if err != nil {
		if derr := s.envelopes.Discard(context.WithoutCancel(ctx), msg); derr != nil {
			s.log.Error(ctx, "cannot discard file of unsaved message", "message_id", msg.ID, "error", derr)
		}
		return nil, err
	}

	s.metrics.MessageSubmitted(string(msg.Scope), string(msg.ContentType))
	s.log.Info(ctx, "message stored", "message_id", msg.ID, "sender_id", msg.SenderID,
		"scope", msg.Scope, "content_type", msg.ContentType)
	return msg, nil
}

func (s *MessageService) checkTarget(ctx context.Context, senderID string, scope models.Scope, recipientID string) error {
	if recipientID == "" {
		return fmt.Errorf("%w: recipient is required", common.ErrValidation)
	}

	switch scope {
	case models.ScopePersonal:
		if _, err := s.repomanager.Users(s.db).GetByID(ctx, recipientID); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("%w: unknown recipient %s", common.ErrKeyNotFound, recipientID)
			}
			return err
		}
		return nil

	case models.ScopeGroup:
		members, err := s.repomanager.Groups(s.db).MembersOf(ctx, recipientID)
		if err != nil {
			return fmt.Errorf("group %s: %w", recipientID, err)
		}
		if !slices.Contains(members, senderID) {
			return fmt.Errorf("%w: %s is not a member of group %s", common.ErrUnauthorized, senderID, recipientID)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown scope %q", common.ErrValidation, scope)
}

func (s *MessageService) authorizeRead(ctx context.Context, userID string, msg *models.Message) error {
	switch msg.Scope {
	case models.ScopePersonal:
		if userID == msg.SenderID || userID == msg.RecipientID {
			return nil
		}
	case models.ScopeGroup:
		ok, err := s.repomanager.Groups(s.db).IsMember(ctx, msg.RecipientID, userID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: no access to message %s", common.ErrUnauthorized, msg.ID)
}

// storedPayload is what recipients get for a stored message: the opened
// text of a PLAIN message, the metadata of a FILE message.
func (s *MessageService) storedPayload(msg *models.Message) ([]byte, error) {
	if msg.ContentType == models.ContentFile {
		return json.Marshal(msg.File)
	}
	return s.envelopes.Plaintext(msg)
}

func messagePayload(msg *models.Message, plaintext []byte) ([]byte, error) {
	if msg.ContentType == models.ContentFile {
		return json.Marshal(msg.File)
	}
	return plaintext, nil
}

func eventFor(msg *models.Message) rpc.Event {
	return rpc.Event{
		Type:        rpc.EventMessage,
		MessageID:   msg.ID,
		SenderID:    msg.SenderID,
		Scope:       string(msg.Scope),
		RecipientID: msg.RecipientID,
		ContentType: string(msg.ContentType),
		CreatedAt:   msg.CreatedAt,
	}
}
