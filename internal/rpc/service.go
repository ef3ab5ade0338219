package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "securechat.v1.Relay"

const (
	Relay_KeyExchange_FullMethodName  = "/" + ServiceName + "/KeyExchange"
	Relay_SendMessage_FullMethodName  = "/" + ServiceName + "/SendMessage"
	Relay_UploadFile_FullMethodName   = "/" + ServiceName + "/UploadFile"
	Relay_DownloadFile_FullMethodName = "/" + ServiceName + "/DownloadFile"
	Relay_History_FullMethodName      = "/" + ServiceName + "/History"
	Relay_GroupHistory_FullMethodName = "/" + ServiceName + "/GroupHistory"
	Relay_Connect_FullMethodName      = "/" + ServiceName + "/Connect"
)

// RelayServer is implemented by the relay transport.
type RelayServer interface {
	KeyExchange(context.Context, *KeyExchangeRequest) (*KeyExchangeResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	UploadFile(context.Context, *UploadFileRequest) (*SendMessageResponse, error)
	DownloadFile(context.Context, *DownloadFileRequest) (*DownloadFileResponse, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
	GroupHistory(context.Context, *GroupHistoryRequest) (*HistoryResponse, error)
	// Connect is the live connection of one device: frames in, events out.
	Connect(grpc.BidiStreamingServer[ClientFrame, Event]) error
}

// RegisterRelayServer registers srv on s.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&Relay_ServiceDesc, srv)
}

func unaryHandler[Req, Res any](method string, call func(RelayServer, context.Context, *Req) (*Res, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RelayServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayServer).Connect(&grpc.GenericServerStream[ClientFrame, Event]{ServerStream: stream})
}

// Relay_ServiceDesc describes the relay service for grpc.ServiceRegistrar.
var Relay_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "KeyExchange",
			Handler:    unaryHandler(Relay_KeyExchange_FullMethodName, RelayServer.KeyExchange),
		},
		{
			MethodName: "SendMessage",
			Handler:    unaryHandler(Relay_SendMessage_FullMethodName, RelayServer.SendMessage),
		},
		{
			MethodName: "UploadFile",
			Handler:    unaryHandler(Relay_UploadFile_FullMethodName, RelayServer.UploadFile),
		},
		{
			MethodName: "DownloadFile",
			Handler:    unaryHandler(Relay_DownloadFile_FullMethodName, RelayServer.DownloadFile),
		},
		{
			MethodName: "History",
			Handler:    unaryHandler(Relay_History_FullMethodName, RelayServer.History),
		},
		{
			MethodName: "GroupHistory",
			Handler:    unaryHandler(Relay_GroupHistory_FullMethodName, RelayServer.GroupHistory),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "securechat/v1/relay",
}
