package grpc

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/dmitrijs2005/securechat/internal/server/models"
	"github.com/dmitrijs2005/securechat/internal/server/presence"
	"github.com/dmitrijs2005/securechat/internal/server/services"
)

type readyChan chan struct{}

func (r readyChan) Ready() <-chan struct{} { return r }

func closedReady() readyChan {
	r := make(readyChan)
	close(r)
	return r
}

type typingCall struct {
	userID, contactID string
	done              bool
}

type fakeRelay struct {
	mu sync.Mutex

	keyErr     error
	sendErr    error
	openErr    error
	historyOut []*rpc.Event
	historyErr error
	groupCalls []string
	fileMeta   *models.FileMeta
	fileData   []byte
	fileErr    error

	exchanged   map[string]string
	submissions []services.Submission
	typing      []typingCall
	conns       map[string]presence.Conn
	connected   chan presence.Conn
	disconnects chan string
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		exchanged:   map[string]string{},
		conns:       map[string]presence.Conn{},
		connected:   make(chan presence.Conn, 4),
		disconnects: make(chan string, 4),
	}
}

func (f *fakeRelay) KeyExchange(_ context.Context, userID, armored string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keyErr != nil {
		return "", f.keyErr
	}
	f.exchanged[userID] = armored
	return "server-key", nil
}

func (f *fakeRelay) OpenInbound(content []byte, sealed bool) ([]byte, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	if sealed {
		return append([]byte("opened:"), content...), nil
	}
	return content, nil
}

func (f *fakeRelay) Send(_ context.Context, sub services.Submission) (*rpc.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.submissions = append(f.submissions, sub)
	return &rpc.Event{Type: rpc.EventMessageSent, MessageID: "m1", TempID: sub.TempID, SenderID: sub.SenderID}, nil
}

func (f *fakeRelay) History(context.Context, string, string, int) ([]*rpc.Event, error) {
	return f.historyOut, f.historyErr
}

func (f *fakeRelay) GroupHistory(_ context.Context, userID, groupID string, _ int) ([]*rpc.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCalls = append(f.groupCalls, userID+"@"+groupID)
	return f.historyOut, f.historyErr
}

func (f *fakeRelay) DownloadFile(context.Context, string, string) (*models.FileMeta, []byte, error) {
	return f.fileMeta, f.fileData, f.fileErr
}

func (f *fakeRelay) Connect(_ context.Context, userID string, conn presence.Conn) error {
	f.mu.Lock()
	f.conns[userID] = conn
	f.mu.Unlock()
	f.connected <- conn
	return nil
}

func (f *fakeRelay) Disconnect(_ context.Context, conn presence.Conn) {
	f.disconnects <- conn.ID()
}

func (f *fakeRelay) Typing(_ context.Context, userID, contactID string, done bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typingCall{userID, contactID, done})
	return nil
}

func (f *fakeRelay) lastSubmission() services.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions[len(f.submissions)-1]
}

func (f *fakeRelay) typingCalls() []typingCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]typingCall(nil), f.typing...)
}
