package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/logging"
	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/dmitrijs2005/securechat/internal/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const testSecret = "super-secret"

type harness struct {
	relay  *fakeRelay
	client *rpc.RelayClient
	health healthpb.HealthClient
}

// startServer serves a GRPCServer over an in-memory listener until the
// test ends.
func startServer(t *testing.T, relay *fakeRelay, ready readyChan) *harness {
	t.Helper()

	srv, err := NewGRPCServer("bufnet", logging.Nop{}, relay, ready, testSecret)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{relay: relay, client: rpc.NewRelayClient(conn), health: healthpb.NewHealthClient(conn)}
}

func authed(t *testing.T, userID string) context.Context {
	t.Helper()
	token, err := auth.GenerateToken(userID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, token)
}

func TestNewGRPCServer_RequiresSecret(t *testing.T) {
	_, err := NewGRPCServer(":0", logging.Nop{}, newFakeRelay(), closedReady(), "")
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestServe_HealthFollowsReadiness(t *testing.T) {
	ready := make(readyChan)
	h := startServer(t, newFakeRelay(), ready)

	resp, err := h.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	close(ready)
	assert.Eventually(t, func() bool {
		resp, err := h.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv, err := NewGRPCServer("127.0.0.1:0", logging.Nop{}, newFakeRelay(), closedReady(), "secret")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "Run returned error on graceful stop")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv, err := NewGRPCServer("127.0.0.1:99999", logging.Nop{}, newFakeRelay(), closedReady(), "secret")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, srv.Run(ctx))
}

func TestServe_ShutdownClosesOpenStreams(t *testing.T) {
	relay := newFakeRelay()
	srv, err := NewGRPCServer("bufnet", logging.Nop{}, relay, closedReady(), testSecret)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	stream, err := rpc.NewRelayClient(conn).Connect(authed(t, "bob"))
	require.NoError(t, err)
	require.NoError(t, stream.Send(&rpc.ClientFrame{Type: rpc.FrameTyping, ContactID: "alice"}))
	c := waitConn(t, relay)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return with a Connect stream open")
	}

	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))

	select {
	case id := <-relay.disconnects:
		assert.Equal(t, c.ID(), id)
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not unregistered")
	}
}
