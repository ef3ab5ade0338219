// Package cli is the interactive securechat client.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/securechat/internal/client/client"
	"github.com/dmitrijs2005/securechat/internal/client/config"
	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/google/uuid"
)

type App struct {
	config *config.Config
	client *client.GRPCClient
	out    io.Writer
	mu     sync.Mutex
}

// NewApp unlocks (or creates) the user keypair, connects to the relay and
// performs the key exchange.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if c.AccessToken == "" {
		return nil, fmt.Errorf("access token is not set (%s)", config.EnvAccessToken)
	}

	pw, err := GetPassword(os.Stdout)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(pw)

	kp, created, err := client.LoadOrCreateKeyPair(c.KeyFile, pw)
	if err != nil {
		return nil, err
	}
	if created {
		fmt.Println("Generated a new keypair in", c.KeyFile)
	}

	gc, err := client.NewGRPCClient(c.ServerEndpointAddr, c.AccessToken, kp)
	if err != nil {
		return nil, err
	}
	if err := gc.KeyExchange(ctx); err != nil {
		_ = gc.Close()
		return nil, fmt.Errorf("key exchange: %w", err)
	}

	return &App{config: c, client: gc, out: os.Stdout}, nil
}

// Run listens for events in the background and reads commands from stdin.
func (a *App) Run(ctx context.Context) {
	defer a.client.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := a.client.Listen(ctx, a.print); err != nil {
			a.printf("connection closed: %v\n", err)
		}
	}()

	printlnFn("securechat (type 'help' for commands)")
	runREPL(ctx, a, bufio.NewScanner(os.Stdin))
}

func (a *App) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) print(m *client.Message) {
	a.printf("%s\n", formatMessage(m))
}

func formatMessage(m *client.Message) string {
	ev := m.Event
	switch ev.Type {
	case rpc.EventMessage:
		if ev.ContentType == "FILE" {
			return fmt.Sprintf("[%s -> %s] file %s (id %s)", ev.SenderID, ev.RecipientID, m.Text, ev.MessageID)
		}
		return fmt.Sprintf("[%s -> %s] %s", ev.SenderID, ev.RecipientID, m.Text)
	case rpc.EventMessageSent:
		return fmt.Sprintf("sent %s (id %s)", ev.TempID, ev.MessageID)
	case rpc.EventOnline:
		return fmt.Sprintf("* %s is online", ev.UserID)
	case rpc.EventOffline:
		return fmt.Sprintf("* %s is offline", ev.UserID)
	case rpc.EventTyping:
		return fmt.Sprintf("* %s is typing", ev.UserID)
	case rpc.EventTypingDone:
		return fmt.Sprintf("* %s stopped typing", ev.UserID)
	case rpc.EventError:
		return fmt.Sprintf("! %s", ev.Error)
	}
	return fmt.Sprintf("? %s", ev.Type)
}

func (a *App) Send(ctx context.Context, scope, to, text string) error {
	ack, err := a.client.SendText(ctx, uuid.NewString(), scope, to, []byte(text))
	if err != nil {
		return err
	}
	a.print(ack)
	return nil
}

func (a *App) SendFile(ctx context.Context, scope, to, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ack, err := a.client.SendFile(ctx, uuid.NewString(), scope, to, filepath.Base(path), http.DetectContentType(data), data)
	if err != nil {
		return err
	}
	a.print(ack)
	return nil
}

func (a *App) Download(ctx context.Context, messageID, path string) error {
	name, data, err := a.client.DownloadFile(ctx, messageID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	a.printf("saved %s to %s\n", name, path)
	return nil
}

func (a *App) History(ctx context.Context, contactID string) error {
	msgs, err := a.client.History(ctx, contactID, 0)
	if err != nil {
		return err
	}
	a.printHistory(msgs)
	return nil
}

func (a *App) GroupHistory(ctx context.Context, groupID string) error {
	msgs, err := a.client.GroupHistory(ctx, groupID, 0)
	if err != nil {
		return err
	}
	a.printHistory(msgs)
	return nil
}

// printHistory prints newest-first messages oldest first.
func (a *App) printHistory(msgs []*client.Message) {
	for i := len(msgs) - 1; i >= 0; i-- {
		a.print(msgs[i])
	}
}
