package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/cryptox"
	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

// fakeRelay plays the server side of the sealing protocol.
type fakeRelay struct {
	pub, priv *[32]byte

	mu       sync.Mutex
	userKey  string
	tokens   []string
	received [][]byte
}

func (f *fakeRelay) note(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, md.Get(common.AccessTokenHeaderName)...)
}

func (f *fakeRelay) inbound(content []byte, sealed bool) ([]byte, error) {
	if !sealed {
		return content, nil
	}
	return cryptox.OpenForRecipient(content, f.pub, f.priv)
}

func (f *fakeRelay) sealForUser(b []byte) []byte {
	f.mu.Lock()
	key := f.userKey
	f.mu.Unlock()
	if key == "" {
		return nil
	}
	sealed, err := cryptox.SealFor(b, key)
	if err != nil {
		panic(err)
	}
	return sealed
}

func (f *fakeRelay) KeyExchange(ctx context.Context, req *rpc.KeyExchangeRequest) (*rpc.KeyExchangeResponse, error) {
	f.note(ctx)
	f.mu.Lock()
	f.userKey = req.PublicKey
	f.mu.Unlock()
	return &rpc.KeyExchangeResponse{ServerPublicKey: cryptox.ArmorPublicKey(f.pub)}, nil
}

func (f *fakeRelay) SendMessage(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	f.note(ctx)
	text, err := f.inbound(req.Content, req.Sealed)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.received = append(f.received, text)
	f.mu.Unlock()
	return &rpc.SendMessageResponse{Ack: &rpc.Event{Type: rpc.EventMessageSent, TempID: req.TempID, Payload: f.sealForUser(text)}}, nil
}

func (f *fakeRelay) UploadFile(ctx context.Context, req *rpc.UploadFileRequest) (*rpc.SendMessageResponse, error) {
	data, err := f.inbound(req.Data, req.Sealed)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.received = append(f.received, data)
	f.mu.Unlock()
	meta := []byte(`{"original_name":"` + req.Name + `"}`)
	return &rpc.SendMessageResponse{Ack: &rpc.Event{Type: rpc.EventMessageSent, Payload: f.sealForUser(meta)}}, nil
}

func (f *fakeRelay) DownloadFile(context.Context, *rpc.DownloadFileRequest) (*rpc.DownloadFileResponse, error) {
	return &rpc.DownloadFileResponse{Name: "a.txt", Payload: f.sealForUser([]byte("file body"))}, nil
}

func (f *fakeRelay) History(context.Context, *rpc.HistoryRequest) (*rpc.HistoryResponse, error) {
	return &rpc.HistoryResponse{Messages: []*rpc.Event{
		{Type: rpc.EventMessage, MessageID: "m2", Payload: f.sealForUser([]byte("second"))},
		{Type: rpc.EventMessage, MessageID: "m1", Payload: f.sealForUser([]byte("first"))},
	}}, nil
}

func (f *fakeRelay) GroupHistory(_ context.Context, req *rpc.GroupHistoryRequest) (*rpc.HistoryResponse, error) {
	return &rpc.HistoryResponse{Messages: []*rpc.Event{
		{Type: rpc.EventMessage, MessageID: "g1m", Scope: "GROUP", RecipientID: req.GroupID, Payload: f.sealForUser([]byte("to the group"))},
	}}, nil
}

func (f *fakeRelay) Connect(stream grpc.BidiStreamingServer[rpc.ClientFrame, rpc.Event]) error {
	if err := stream.Send(&rpc.Event{Type: rpc.EventOnline, UserID: "alice"}); err != nil {
		return err
	}
	if err := stream.Send(&rpc.Event{Type: rpc.EventMessage, MessageID: "m3", Payload: f.sealForUser([]byte("pushed"))}); err != nil {
		return err
	}
	return nil
}

func newTestClient(t *testing.T) (*GRPCClient, *fakeRelay, *KeyPair) {
	t.Helper()
	spub, spriv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)
	relay := &fakeRelay{pub: spub, priv: spriv}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	rpc.RegisterRelayServer(srv, relay)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	upub, upriv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)
	kp := &KeyPair{Public: upub, Private: upriv}

	c, err := NewGRPCClient("passthrough:///bufnet", "token-1", kp,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, relay, kp
}

func TestGRPCClient_SendSealsForServer(t *testing.T) {
	c, relay, _ := newTestClient(t)
	ctx := context.Background()

	ack, err := c.SendText(ctx, "t0", "PERSONAL", "bob", []byte("before exchange"))
	require.NoError(t, err)
	assert.Empty(t, ack.Text, "no key registered yet, nothing sealed for us")

	require.NoError(t, c.KeyExchange(ctx))

	ack, err = c.SendText(ctx, "t1", "PERSONAL", "bob", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "t1", ack.Event.TempID)
	assert.Equal(t, "hi", string(ack.Text))

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, [][]byte{[]byte("before exchange"), []byte("hi")}, relay.received)
	assert.Contains(t, relay.tokens, "token-1")
}

func TestGRPCClient_FilesAndHistory(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.KeyExchange(ctx))

	ack, err := c.SendFile(ctx, "f1", "PERSONAL", "bob", "a.txt", "text/plain", []byte("body"))
	require.NoError(t, err)
	assert.Contains(t, string(ack.Text), "a.txt")

	name, data, err := c.DownloadFile(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", name)
	assert.Equal(t, "file body", string(data))

	history, err := c.History(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", string(history[0].Text))
	assert.Equal(t, "first", string(history[1].Text))

	group, err := c.GroupHistory(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, group, 1)
	assert.Equal(t, "g1", group[0].Event.RecipientID)
	assert.Equal(t, "to the group", string(group[0].Text))
}

func TestGRPCClient_Listen(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.KeyExchange(ctx))

	var got []*Message
	require.NoError(t, c.Listen(ctx, func(m *Message) { got = append(got, m) }))

	require.Len(t, got, 2)
	assert.Equal(t, rpc.EventOnline, got[0].Event.Type)
	assert.Equal(t, "alice", got[0].Event.UserID)
	assert.Equal(t, "pushed", string(got[1].Text))
}
