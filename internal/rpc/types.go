package rpc

import "time"

// EventType names what a server-pushed Event carries.
type EventType string

const (
	EventMessage     EventType = "message"      // new message for the receiving user
	EventMessageSent EventType = "message_sent" // acknowledgment to the sender
	EventOnline      EventType = "online"
	EventOffline     EventType = "offline"
	EventTyping      EventType = "typing"
	EventTypingDone  EventType = "typing_done"
	EventError       EventType = "error" // a client frame was rejected; the stream stays open
)

// FrameType names what a client frame on the Connect stream asks for.
type FrameType string

const (
	FrameSendMessage FrameType = "send_message"
	FrameTyping      FrameType = "typing"
	FrameTypingDone  FrameType = "typing_done"
)

// Event is pushed to one connection. Payload is always sealed for the
// user owning that connection and is never persisted.
type Event struct {
	Type        EventType `json:"type"`
	MessageID   string    `json:"message_id,omitempty"`
	TempID      string    `json:"temp_id,omitempty"`
	SenderID    string    `json:"sender_id,omitempty"`
	Scope       string    `json:"scope,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Payload     []byte    `json:"payload,omitempty"`
	UserID      string    `json:"user_id,omitempty"` // subject of presence and typing events
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// ClientFrame is sent by the client on the Connect stream.
type ClientFrame struct {
	Type      FrameType           `json:"type"`
	Message   *SendMessageRequest `json:"message,omitempty"`
	ContactID string              `json:"contact_id,omitempty"`
}

type KeyExchangeRequest struct {
	PublicKey string `json:"public_key"`
}

type KeyExchangeResponse struct {
	ServerPublicKey string `json:"server_public_key"`
}

// SendMessageRequest submits a text message. When Sealed is set, Content
// is sealed for the server public key.
type SendMessageRequest struct {
	TempID      string `json:"temp_id"`
	Scope       string `json:"scope"`
	RecipientID string `json:"recipient_id"`
	Content     []byte `json:"content"`
	Sealed      bool   `json:"sealed,omitempty"`
}

// SendMessageResponse carries the acknowledgment sealed for the sender.
type SendMessageResponse struct {
	Ack *Event `json:"ack"`
}

type UploadFileRequest struct {
	TempID      string `json:"temp_id"`
	Scope       string `json:"scope"`
	RecipientID string `json:"recipient_id"`
	Name        string `json:"name"`
	MimeType    string `json:"mime_type"`
	Data        []byte `json:"data"`
	Sealed      bool   `json:"sealed,omitempty"`
}

type DownloadFileRequest struct {
	MessageID string `json:"message_id"`
}

// DownloadFileResponse carries the file content sealed for the requester.
type DownloadFileResponse struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Payload  []byte `json:"payload"`
}

type HistoryRequest struct {
	ContactID string `json:"contact_id"`
	Limit     int    `json:"limit,omitempty"`
}

type GroupHistoryRequest struct {
	GroupID string `json:"group_id"`
	Limit   int    `json:"limit,omitempty"`
}

// HistoryResponse lists messages newest first, each sealed for the
// requester like a live EventMessage.
type HistoryResponse struct {
	Messages []*Event `json:"messages"`
}
