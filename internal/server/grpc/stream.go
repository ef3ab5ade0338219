package grpc

import (
	"context"
	"errors"
	"io"

	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// sendQueueSize bounds the events buffered for one connection. A full
// queue blocks the fanout for that connection only, up to its timeout.
const sendQueueSize = 64

var errConnClosed = errors.New("connection closed")

// streamConn is the presence handle of one Connect stream. grpc streams
// are not safe for concurrent Send, so every event goes through queue and
// a single writer.
type streamConn struct {
	id     string
	queue  chan *rpc.Event
	closed chan struct{}
}

func newStreamConn() *streamConn {
	return &streamConn{
		id:     uuid.NewString(),
		queue:  make(chan *rpc.Event, sendQueueSize),
		closed: make(chan struct{}),
	}
}

func (c *streamConn) ID() string { return c.id }

func (c *streamConn) Send(ctx context.Context, ev *rpc.Event) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.queue <- ev:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *streamConn) writeLoop(stream grpc.BidiStreamingServer[rpc.ClientFrame, rpc.Event]) error {
	for {
		select {
		case ev := <-c.queue:
			if err := stream.Send(ev); err != nil {
				return err
			}
		case <-c.closed:
			return nil
		}
	}
}

// Connect registers the stream as a live connection of the caller and
// serves its frames until the client goes away or the server shuts down.
func (s *GRPCServer) Connect(stream grpc.BidiStreamingServer[rpc.ClientFrame, rpc.Event]) error {
	ctx := stream.Context()
	userID, err := s.currentUser(ctx)
	if err != nil {
		return err
	}

	conn := newStreamConn()
	log := s.logger.With("user_id", userID, "conn_id", conn.id)

	if err := s.relay.Connect(ctx, userID, conn); err != nil {
		log.Error(ctx, "cannot register connection", "error", err)
		return toStatus(err)
	}
	log.Info(ctx, "connected")

	writeErr := make(chan error, 1)
	go func() { writeErr <- conn.writeLoop(stream) }()
	defer func() {
		close(conn.closed)
		s.relay.Disconnect(context.WithoutCancel(ctx), conn)
		log.Info(ctx, "disconnected")
	}()

	frames := make(chan *rpc.ClientFrame)
	recvErr := make(chan error, 1)
	go func() {
		for {
			frame, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-conn.closed:
				return
			}
		}
	}()

	for {
		select {
		case frame := <-frames:
			if ev := s.handleFrame(ctx, userID, frame); ev != nil {
				if err := conn.Send(ctx, ev); err != nil {
					return err
				}
			}

		case err := <-recvErr:
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			return err

		case err := <-writeErr:
			return err

		case <-s.shutdown:
			return status.Error(codes.Unavailable, "server is shutting down")
		}
	}
}

// handleFrame runs one client frame and returns the event to answer with,
// if any.
func (s *GRPCServer) handleFrame(ctx context.Context, userID string, frame *rpc.ClientFrame) *rpc.Event {
	switch frame.Type {
	case rpc.FrameSendMessage:
		if frame.Message == nil {
			return frameError("", "message is required")
		}
		ack, err := s.send(ctx, userID, frame.Message)
		if err != nil {
			return frameError(frame.Message.TempID, status.Convert(err).Message())
		}
		return ack

	case rpc.FrameTyping, rpc.FrameTypingDone:
		if err := s.relay.Typing(ctx, userID, frame.ContactID, frame.Type == rpc.FrameTypingDone); err != nil {
			return frameError("", status.Convert(toStatus(err)).Message())
		}
		return nil
	}
	return frameError("", "unknown frame type "+string(frame.Type))
}

func frameError(tempID, msg string) *rpc.Event {
	return &rpc.Event{Type: rpc.EventError, TempID: tempID, Error: msg}
}
