// Package grpc exposes the relay over gRPC: unary calls for key exchange,
// sending, history and files, and a bidirectional Connect stream that
// carries the live push channel of one device.
package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/logging"
	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/dmitrijs2005/securechat/internal/server/models"
	"github.com/dmitrijs2005/securechat/internal/server/presence"
	"github.com/dmitrijs2005/securechat/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Relay is the business logic behind the transport.
type Relay interface {
	KeyExchange(ctx context.Context, userID, armoredPublicKey string) (string, error)
	OpenInbound(content []byte, sealed bool) ([]byte, error)
	Send(ctx context.Context, sub services.Submission) (*rpc.Event, error)
	History(ctx context.Context, userID, contactID string, limit int) ([]*rpc.Event, error)
	GroupHistory(ctx context.Context, userID, groupID string, limit int) ([]*rpc.Event, error)
	DownloadFile(ctx context.Context, userID, messageID string) (*models.FileMeta, []byte, error)
	Connect(ctx context.Context, userID string, conn presence.Conn) error
	Disconnect(ctx context.Context, conn presence.Conn)
	Typing(ctx context.Context, userID, contactID string, done bool) error
}

// shutdownGrace bounds how long in-flight unary calls may run after the
// server context is done. Connect streams end as soon as shutdown starts.
const shutdownGrace = 5 * time.Second

// Readiness is closed once the server keypair is available.
type Readiness interface {
	Ready() <-chan struct{}
}

type GRPCServer struct {
	address   string
	relay     Relay
	ready     <-chan struct{}
	logger    logging.Logger
	jwtSecret []byte
	health    *health.Server

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func NewGRPCServer(a string, l logging.Logger, relay Relay, r Readiness, secretKey string) (*GRPCServer, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("%w: token secret is not set", common.ErrConfiguration)
	}
	return &GRPCServer{
		address:   a,
		relay:     relay,
		ready:     r.Ready(),
		logger:    l.With("module", "grpc_server"),
		jwtSecret: []byte(secretKey),
		health:    health.NewServer(),
		shutdown:  make(chan struct{}),
	}, nil
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.readinessInterceptor, s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.readinessStreamInterceptor, s.accessTokenStreamInterceptor),
	)
	rpc.RegisterRelayServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done, then stops gracefully. The health
// service reports NOT_SERVING until the server keypair is ready. Open
// Connect streams are closed with Unavailable when shutdown starts, and
// calls still running after shutdownGrace are cut off.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)
	go func() {
		select {
		case <-s.ready:
			s.setServing(healthpb.HealthCheckResponse_SERVING)
			s.logger.Info(ctx, "server keys ready, serving")
		case <-ctx.Done():
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		s.shutdownOnce.Do(func() { close(s.shutdown) })

		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownGrace):
			s.logger.Warn(ctx, "graceful stop timed out, closing connections")
			srv.Stop()
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *GRPCServer) setServing(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(rpc.ServiceName, st)
}

func (s *GRPCServer) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}
