package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/cryptox"
	"github.com/dmitrijs2005/securechat/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

type GRPCClient struct {
	conn        *grpc.ClientConn
	api         *rpc.RelayClient
	accessToken string
	keys        *KeyPair
	serverKey   string
}

// Message is a decrypted event.
type Message struct {
	Event *rpc.Event
	Text  []byte
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) accessTokenInterceptor(ctx context.Context, method string, req, reply any,
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return invoker(withAccessToken(ctx, c.accessToken), method, req, reply, cc, opts...)
}

func (c *GRPCClient) accessTokenStreamInterceptor(ctx context.Context, desc *grpc.StreamDesc,
	cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, c.accessToken), desc, cc, method, opts...)
}

// NewGRPCClient connects to the relay at endpoint. Extra dial options are
// appended after the defaults.
func NewGRPCClient(endpoint, accessToken string, keys *KeyPair, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{accessToken: accessToken, keys: keys}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(c.accessTokenInterceptor),
		grpc.WithChainStreamInterceptor(c.accessTokenStreamInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.api = rpc.NewRelayClient(conn)
	return c, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// KeyExchange registers the user public key and remembers the server key
// for sealing outgoing content.
func (c *GRPCClient) KeyExchange(ctx context.Context) error {
	resp, err := c.api.KeyExchange(ctx, &rpc.KeyExchangeRequest{PublicKey: c.keys.Armored()})
	if err != nil {
		return err
	}
	if _, err := cryptox.ParsePublicKey(resp.ServerPublicKey); err != nil {
		return fmt.Errorf("server key: %w", err)
	}
	c.serverKey = resp.ServerPublicKey
	return nil
}

// seal seals content for the server once a key exchange has happened.
func (c *GRPCClient) seal(content []byte) ([]byte, bool, error) {
	if c.serverKey == "" {
		return content, false, nil
	}
	sealed, err := cryptox.SealFor(content, c.serverKey)
	if err != nil {
		return nil, false, err
	}
	return sealed, true, nil
}

// SendText sends a text message and returns the opened acknowledgment.
func (c *GRPCClient) SendText(ctx context.Context, tempID, scope, recipientID string, text []byte) (*Message, error) {
	content, sealed, err := c.seal(text)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.SendMessage(ctx, &rpc.SendMessageRequest{
		TempID:      tempID,
		Scope:       scope,
		RecipientID: recipientID,
		Content:     content,
		Sealed:      sealed,
	})
	if err != nil {
		return nil, err
	}
	return c.open(resp.Ack)
}

// SendFile uploads a file message and returns the opened acknowledgment,
// whose text is the file metadata.
func (c *GRPCClient) SendFile(ctx context.Context, tempID, scope, recipientID, name, mimeType string, data []byte) (*Message, error) {
	content, sealed, err := c.seal(data)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.UploadFile(ctx, &rpc.UploadFileRequest{
		TempID:      tempID,
		Scope:       scope,
		RecipientID: recipientID,
		Name:        name,
		MimeType:    mimeType,
		Data:        content,
		Sealed:      sealed,
	})
	if err != nil {
		return nil, err
	}
	return c.open(resp.Ack)
}

// DownloadFile returns the name and opened content of a file message.
func (c *GRPCClient) DownloadFile(ctx context.Context, messageID string) (string, []byte, error) {
	resp, err := c.api.DownloadFile(ctx, &rpc.DownloadFileRequest{MessageID: messageID})
	if err != nil {
		return "", nil, err
	}
	data, err := c.keys.Open(resp.Payload)
	if err != nil {
		return "", nil, err
	}
	return resp.Name, data, nil
}

// History returns the conversation with contactID, newest first.
func (c *GRPCClient) History(ctx context.Context, contactID string, limit int) ([]*Message, error) {
	resp, err := c.api.History(ctx, &rpc.HistoryRequest{ContactID: contactID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return c.openAll(resp.Messages)
}

// GroupHistory returns the messages of groupID, newest first.
func (c *GRPCClient) GroupHistory(ctx context.Context, groupID string, limit int) ([]*Message, error) {
	resp, err := c.api.GroupHistory(ctx, &rpc.GroupHistoryRequest{GroupID: groupID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return c.openAll(resp.Messages)
}

func (c *GRPCClient) openAll(events []*rpc.Event) ([]*Message, error) {
	out := make([]*Message, 0, len(events))
	for _, ev := range events {
		m, err := c.open(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Listen opens the live connection and calls fn for every event until ctx
// is done or the server closes the stream. Events that cannot be opened are
// passed on without text.
func (c *GRPCClient) Listen(ctx context.Context, fn func(*Message)) error {
	// the send side stays open: closing it ends the connection
	stream, err := c.api.Connect(ctx)
	if err != nil {
		return err
	}

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		m, err := c.open(ev)
		if err != nil {
			m = &Message{Event: ev}
		}
		fn(m)
	}
}

func (c *GRPCClient) open(ev *rpc.Event) (*Message, error) {
	if ev == nil {
		return nil, errors.New("empty event")
	}
	if len(ev.Payload) == 0 {
		return &Message{Event: ev}, nil
	}
	text, err := c.keys.Open(ev.Payload)
	if err != nil {
		return nil, err
	}
	return &Message{Event: ev, Text: text}, nil
}
