package grpc

import (
	"context"

	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/dmitrijs2005/securechat/internal/server/envelopes"
	"github.com/dmitrijs2005/securechat/internal/server/models"
	"github.com/dmitrijs2005/securechat/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) currentUser(ctx context.Context) (string, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return userID, nil
}

func (s *GRPCServer) KeyExchange(ctx context.Context, req *rpc.KeyExchangeRequest) (*rpc.KeyExchangeResponse, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	serverKey, err := s.relay.KeyExchange(ctx, userID, req.PublicKey)
	if err != nil {
		s.logger.Warn(ctx, "key exchange failed", "user_id", userID, "error", err)
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "key exchanged", "user_id", userID)
	return &rpc.KeyExchangeResponse{ServerPublicKey: serverKey}, nil
}

func (s *GRPCServer) SendMessage(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	ack, err := s.send(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	return &rpc.SendMessageResponse{Ack: ack}, nil
}

func (s *GRPCServer) send(ctx context.Context, userID string, req *rpc.SendMessageRequest) (*rpc.Event, error) {
	scope, err := models.ParseScope(req.Scope)
	if err != nil {
		return nil, toStatus(err)
	}
	content, err := s.relay.OpenInbound(req.Content, req.Sealed)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "cannot open sealed content")
	}

	ack, err := s.relay.Send(ctx, services.Submission{
		TempID:      req.TempID,
		SenderID:    userID,
		Scope:       scope,
		RecipientID: req.RecipientID,
		ContentType: models.ContentPlain,
		Plaintext:   content,
	})
	if err != nil {
		s.logger.Warn(ctx, "send failed", "user_id", userID, "error", err)
		return nil, toStatus(err)
	}
	return ack, nil
}

func (s *GRPCServer) UploadFile(ctx context.Context, req *rpc.UploadFileRequest) (*rpc.SendMessageResponse, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	scope, err := models.ParseScope(req.Scope)
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := s.relay.OpenInbound(req.Data, req.Sealed)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "cannot open sealed content")
	}

	ack, err := s.relay.Send(ctx, services.Submission{
		TempID:      req.TempID,
		SenderID:    userID,
		Scope:       scope,
		RecipientID: req.RecipientID,
		ContentType: models.ContentFile,
		File:        &envelopes.FileDraft{Name: req.Name, MimeType: req.MimeType, Data: data},
	})
	if err != nil {
		s.logger.Warn(ctx, "upload failed", "user_id", userID, "error", err)
		return nil, toStatus(err)
	}
	return &rpc.SendMessageResponse{Ack: ack}, nil
}

func (s *GRPCServer) DownloadFile(ctx context.Context, req *rpc.DownloadFileRequest) (*rpc.DownloadFileResponse, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	meta, sealed, err := s.relay.DownloadFile(ctx, userID, req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.DownloadFileResponse{Name: meta.OriginalName, MimeType: meta.MimeType, Payload: sealed}, nil
}

func (s *GRPCServer) History(ctx context.Context, req *rpc.HistoryRequest) (*rpc.HistoryResponse, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	events, err := s.relay.History(ctx, userID, req.ContactID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.HistoryResponse{Messages: events}, nil
}

func (s *GRPCServer) GroupHistory(ctx context.Context, req *rpc.GroupHistoryRequest) (*rpc.HistoryResponse, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	events, err := s.relay.GroupHistory(ctx, userID, req.GroupID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.HistoryResponse{Messages: events}, nil
}
