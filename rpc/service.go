package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name of the management interface.
const ServiceName = "vpnd.management.ManagementService"

// Management interface methods.
const (
	MethodGetCurrentVersion  = "GetCurrentVersion"
	MethodGetTunnelState     = "GetTunnelState"
	MethodGetRelayLocations  = "GetRelayLocations"
	MethodGetSettings        = "GetSettings"
	MethodGetAccountState    = "GetAccountState"
	MethodConnectTunnel      = "ConnectTunnel"
	MethodDisconnectTunnel   = "DisconnectTunnel"
	MethodReconnectTunnel    = "ReconnectTunnel"
	MethodSetRelayConstraint = "SetRelayConstraint"
	MethodUpdateSettings     = "UpdateSettings"
	MethodLoginAccount       = "LoginAccount"
	MethodLogoutAccount      = "LogoutAccount"
	MethodEventsListen       = "EventsListen"
)

// FullMethod returns the gRPC path of a management method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ManagementServer is the daemon side of the management interface.
// It is implemented by the daemon and by test fakes.
type ManagementServer interface {
	GetCurrentVersion(context.Context, *Empty) (*VersionResponse, error)
	GetTunnelState(context.Context, *Empty) (*TunnelStateResponse, error)
	GetRelayLocations(context.Context, *Empty) (*RelayListResponse, error)
	GetSettings(context.Context, *Empty) (*SettingsResponse, error)
	GetAccountState(context.Context, *Empty) (*AccountResponse, error)
	ConnectTunnel(context.Context, *Empty) (*CommandResponse, error)
	DisconnectTunnel(context.Context, *Empty) (*CommandResponse, error)
	ReconnectTunnel(context.Context, *Empty) (*CommandResponse, error)
	SetRelayConstraint(context.Context, *RelayConstraint) (*CommandResponse, error)
	UpdateSettings(context.Context, *SettingsPatch) (*CommandResponse, error)
	LoginAccount(context.Context, *LoginRequest) (*CommandResponse, error)
	LogoutAccount(context.Context, *Empty) (*CommandResponse, error)
	EventsListen(*Empty, grpc.ServerStreamingServer[DaemonEvent]) error
}

// RegisterManagementServer registers srv on s under ServiceName.
func RegisterManagementServer(s grpc.ServiceRegistrar, srv ManagementServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ManagementServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodGetCurrentVersion, Handler: unaryHandler(MethodGetCurrentVersion, ManagementServer.GetCurrentVersion)},
		{MethodName: MethodGetTunnelState, Handler: unaryHandler(MethodGetTunnelState, ManagementServer.GetTunnelState)},
		{MethodName: MethodGetRelayLocations, Handler: unaryHandler(MethodGetRelayLocations, ManagementServer.GetRelayLocations)},
		{MethodName: MethodGetSettings, Handler: unaryHandler(MethodGetSettings, ManagementServer.GetSettings)},
		{MethodName: MethodGetAccountState, Handler: unaryHandler(MethodGetAccountState, ManagementServer.GetAccountState)},
		{MethodName: MethodConnectTunnel, Handler: unaryHandler(MethodConnectTunnel, ManagementServer.ConnectTunnel)},
		{MethodName: MethodDisconnectTunnel, Handler: unaryHandler(MethodDisconnectTunnel, ManagementServer.DisconnectTunnel)},
		{MethodName: MethodReconnectTunnel, Handler: unaryHandler(MethodReconnectTunnel, ManagementServer.ReconnectTunnel)},
		{MethodName: MethodSetRelayConstraint, Handler: unaryHandler(MethodSetRelayConstraint, ManagementServer.SetRelayConstraint)},
		{MethodName: MethodUpdateSettings, Handler: unaryHandler(MethodUpdateSettings, ManagementServer.UpdateSettings)},
		{MethodName: MethodLoginAccount, Handler: unaryHandler(MethodLoginAccount, ManagementServer.LoginAccount)},
		{MethodName: MethodLogoutAccount, Handler: unaryHandler(MethodLogoutAccount, ManagementServer.LogoutAccount)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodEventsListen,
			Handler:       eventsListenHandler,
			ServerStreams: true,
		},
	},
	Metadata: "vpnd/management.json",
}

func unaryHandler[Req, Resp any](method string, call func(ManagementServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ManagementServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ManagementServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func eventsListenHandler(srv any, stream grpc.ServerStream) error {
	in := new(Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ManagementServer).EventsListen(in, &grpc.GenericServerStream[Empty, DaemonEvent]{ServerStream: stream})
}
