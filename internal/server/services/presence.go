package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/dmitrijs2005/securechat/internal/server/presence"
)

// Connect registers a live connection of userID. When the user comes
// online its contacts are told so. A handle registered for another user
// is refused and leaves that user's presence untouched.
func (s *MessageService) Connect(ctx context.Context, userID string, conn presence.Conn) error {
	online, err := s.presence.Connect(userID, conn)
	if err != nil {
		return fmt.Errorf("connect %s: %w", conn.ID(), err)
	}
	if !online {
		return nil
	}
	s.metrics.SetOnlineUsers(len(s.presence.Online()))
	s.log.Info(ctx, "user online", "user_id", userID)

	if err := s.repomanager.Users(s.db).SetOnline(ctx, userID, true); err != nil {
		s.log.Warn(ctx, "cannot persist presence", "user_id", userID, "error", err)
	}
	s.notifyContacts(ctx, userID, rpc.EventOnline)
	return nil
}

// Disconnect removes a live connection. When it was the last one of its
// user the contacts are told the user went offline. In-flight fanouts of
// messages the user sent are not affected.
func (s *MessageService) Disconnect(ctx context.Context, conn presence.Conn) {
	userID, offline := s.presence.Disconnect(conn)
	if !offline {
		return
	}
	s.metrics.SetOnlineUsers(len(s.presence.Online()))
	s.log.Info(ctx, "user offline", "user_id", userID)

	if err := s.repomanager.Users(s.db).SetOnline(ctx, userID, false); err != nil {
		s.log.Warn(ctx, "cannot persist presence", "user_id", userID, "error", err)
	}
	s.notifyContacts(ctx, userID, rpc.EventOffline)
}

// Typing relays a typing indicator of userID to the live connections of
// contactID.
func (s *MessageService) Typing(ctx context.Context, userID, contactID string, done bool) error {
	if contactID == "" {
		return fmt.Errorf("%w: contact is required", common.ErrValidation)
	}
	ev := &rpc.Event{Type: rpc.EventTyping, UserID: userID}
	if done {
		ev.Type = rpc.EventTypingDone
	}
	s.dispatcher.Notify(ctx, []string{contactID}, ev)
	return nil
}

func (s *MessageService) notifyContacts(ctx context.Context, userID string, t rpc.EventType) {
	contacts, err := s.repomanager.Contacts(s.db).ContactsOf(ctx, userID)
	if err != nil {
		s.log.Warn(ctx, "cannot load contacts", "user_id", userID, "error", err)
		return
	}
	for _, d := range s.dispatcher.Notify(ctx, contacts, &rpc.Event{Type: t, UserID: userID}) {
		if d.Err != nil {
			s.log.Warn(ctx, "presence event not delivered", "user_id", userID, "conn_id", d.ConnID, "error", d.Err)
		}
	}
}
