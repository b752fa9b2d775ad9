package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/cors-relay/internal/codec"
	"github.com/xela07ax/cors-relay/internal/connectors"
	"github.com/xela07ax/cors-relay/internal/domain"
)

// RelayServiceName: полное имя gRPC-сервиса моста.
const RelayServiceName = "corsrelay.v1.Relay"

// RelayServer: мост для доверенных фронтов. Сообщения: google.protobuf.Struct
// с теми же JSON-формами, что и в HTTP-канале.
type RelayServer interface {
	GetAllowedInfo(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	RequestHosts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	RequestAllHosts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Request(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RelayServiceDesc описан вручную: сообщения общие (Struct), генерировать нечего.
var RelayServiceDesc = grpc.ServiceDesc{
	ServiceName: RelayServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAllowedInfo", Handler: unaryHandler("GetAllowedInfo", RelayServer.GetAllowedInfo)},
		{MethodName: "RequestHosts", Handler: unaryHandler("RequestHosts", RelayServer.RequestHosts)},
		{MethodName: "RequestAllHosts", Handler: unaryHandler("RequestAllHosts", RelayServer.RequestAllHosts)},
		{MethodName: "Request", Handler: unaryHandler("Request", RelayServer.Request)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "corsrelay/v1/relay.proto",
}

func unaryHandler(name string, call func(RelayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + RelayServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(RelayServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterRelayServer регистрирует мост на gRPC-сервере.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&RelayServiceDesc, srv)
}

// GRPCGatewayServer транслирует вызовы моста в Service. Origin приходит из интерсептора.
type GRPCGatewayServer struct {
	svc    *Service
	logger *zap.Logger
}

func NewGRPCGatewayServer(svc *Service, logger *zap.Logger) *GRPCGatewayServer {
	return &GRPCGatewayServer{svc: svc, logger: logger.Named("grpc")}
}

func (s *GRPCGatewayServer) GetAllowedInfo(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	origin, err := originOf(ctx)
	if err != nil {
		return nil, err
	}
	info, err := s.svc.GetAllowedInfo(ctx, origin)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toStruct(info)
}

func (s *GRPCGatewayServer) RequestHosts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	origin, err := originOf(ctx)
	if err != nil {
		return nil, err
	}
	var req struct {
		Hosts []string `json:"hosts"`
	}
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	decision, err := s.svc.RequestHosts(ctx, origin, req.Hosts)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toStruct(map[string]string{"result": string(decision)})
}

func (s *GRPCGatewayServer) RequestAllHosts(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	origin, err := originOf(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.RequestAllHosts(ctx, origin); err != nil {
		return nil, s.toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

func (s *GRPCGatewayServer) Request(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	origin, err := originOf(ctx)
	if err != nil {
		return nil, err
	}
	data, err := sonic.ConfigStd.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	req, err := codec.DecodeRequest(data)
	if err != nil {
		return nil, s.toStatus(fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err))
	}
	resp, err := s.svc.Request(ctx, origin, req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toStruct(resp)
}

func (s *GRPCGatewayServer) toStatus(err error) error {
	var throttled *connectors.ThrottleError
	switch {
	case errors.Is(err, domain.ErrNotPermitted):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrInvalidOrigin),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrUnsupportedBodyEncoding):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &throttled):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, domain.ErrNetworkFailure):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error("bridge call failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

func originOf(ctx context.Context) (string, error) {
	origin, ok := OriginFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "origin is not established")
	}
	return origin, nil
}

// toStruct: числа в Struct: double, целые длиннее 2^53 теряют точность.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]interface{}
	if err := sonic.ConfigStd.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := sonic.ConfigStd.Marshal(in.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return status.Error(codes.InvalidArgument, fmt.Errorf("decode request: %w", err).Error())
	}
	return nil
}
