// Package grpcapi exposes the crate controller over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the REST API.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/KevinKickass/CrateManager/internal/auth"
	"github.com/KevinKickass/CrateManager/internal/interfaces"
	"github.com/KevinKickass/CrateManager/internal/manager"
)

const ServiceName = "cratemanager.v1.CrateControl"

// Full method names.
const (
	MethodLogin       = "/" + ServiceName + "/Login"
	MethodCommand     = "/" + ServiceName + "/Command"
	MethodStatus      = "/" + ServiceName + "/Status"
	MethodFields      = "/" + ServiceName + "/Fields"
	MethodDumpFIFO    = "/" + ServiceName + "/DumpFIFO"
	MethodWatchStatus = "/" + ServiceName + "/WatchStatus"
)

// Authenticator issues and checks access tokens.
type Authenticator interface {
	LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (string, time.Time, error)
	ValidateToken(token string) (*auth.Identity, error)
}

// CrateControlServer is the server API of the CrateControl service.
type CrateControlServer interface {
	Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Command(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Status(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Fields(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DumpFIFO(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	WatchStatus(req *emptypb.Empty, stream grpc.ServerStream) error
}

type CrateService struct {
	crate    interfaces.CrateController
	auth     Authenticator
	streamer *StatusStreamer
	logger   *zap.Logger
}

var _ CrateControlServer = (*CrateService)(nil)

func NewCrateService(crate interfaces.CrateController, authn Authenticator, streamer *StatusStreamer, logger *zap.Logger) *CrateService {
	return &CrateService{
		crate:    crate,
		auth:     authn,
		streamer: streamer,
		logger:   logger,
	}
}

// Register adds the service to s.
func Register(s *grpc.Server, srv CrateControlServer) {
	s.RegisterService(&serviceDesc, srv)
}

func (s *CrateService) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username := stringField(req, "username")
	password := stringField(req, "password")
	if username == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "username and password are required")
	}

	token, expires, err := s.auth.LoginUser(ctx, username, password, peerAddr(ctx), "grpc")
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}

	return structpb.NewStruct(map[string]interface{}{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expires.UTC().Format(time.RFC3339),
	})
}

func (s *CrateService) Command(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cmd, err := manager.ParseCommand(stringField(req, "command"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := s.crate.ExecuteCommand(ctx, cmd); err != nil {
		s.logger.Error("Crate command failed",
			zap.String("command", string(cmd)),
			zap.Error(err))
		return nil, toStatus(err)
	}

	st := s.crate.Status()
	return toStruct(map[string]interface{}{
		"command": cmd,
		"state":   st.State,
		"report":  st.LastReport,
	})
}

func (s *CrateService) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.crate.Status())
}

func (s *CrateService) Fields(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slot, err := slotField(req)
	if err != nil {
		return nil, err
	}

	fields, err := s.crate.Fields(slot)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]interface{}{
		"slot":   slot,
		"fields": fields,
	})
}

func (s *CrateService) DumpFIFO(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slot, err := slotField(req)
	if err != nil {
		return nil, err
	}

	return toStruct(map[string]interface{}{
		"slot":  slot,
		"words": s.crate.DumpFIFO(ctx, slot),
	})
}

// WatchStatus sends the current status, then one status per state change.
func (s *CrateService) WatchStatus(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ch := s.streamer.Subscribe()
	defer s.streamer.Unsubscribe(ch)

	send := func(st manager.Status) error {
		msg, err := toStruct(st)
		if err != nil {
			return err
		}
		return stream.SendMsg(msg)
	}

	if err := send(s.crate.Status()); err != nil {
		return err
	}

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(st); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// toStatus maps controller errors to gRPC status codes.
func toStatus(err error) error {
	var te *manager.TransitionError
	switch {
	case errors.Is(err, manager.ErrUnknownCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, manager.ErrInvalidTransition), errors.Is(err, manager.ErrSlotsBound):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, manager.ErrScanParameterOverflow):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, manager.ErrInvalidSlot), errors.Is(err, manager.ErrConfigurationMissing):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &te) && te.Slot > 0:
		return status.Errorf(codes.Aborted, "slot %d: %v", te.Slot, err)
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct converts v through its JSON form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[name].GetStringValue()
}

func slotField(req *structpb.Struct) (int, error) {
	v, ok := req.GetFields()["slot"]
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "slot is required")
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != float64(int(n.NumberValue)) {
		return 0, status.Error(codes.InvalidArgument, fmt.Sprintf("slot must be an integer, got %v", v.AsInterface()))
	}
	return int(n.NumberValue), nil
}

func _CrateControl_Login_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CrateControlServer).Login(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodLogin}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CrateControlServer).Login(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _CrateControl_Command_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CrateControlServer).Command(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCommand}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CrateControlServer).Command(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _CrateControl_Status_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CrateControlServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodStatus}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CrateControlServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _CrateControl_Fields_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CrateControlServer).Fields(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodFields}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CrateControlServer).Fields(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _CrateControl_DumpFIFO_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CrateControlServer).DumpFIFO(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodDumpFIFO}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CrateControlServer).DumpFIFO(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _CrateControl_WatchStatus_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CrateControlServer).WatchStatus(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CrateControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: _CrateControl_Login_Handler},
		{MethodName: "Command", Handler: _CrateControl_Command_Handler},
		{MethodName: "Status", Handler: _CrateControl_Status_Handler},
		{MethodName: "Fields", Handler: _CrateControl_Fields_Handler},
		{MethodName: "DumpFIFO", Handler: _CrateControl_DumpFIFO_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchStatus",
			Handler:       _CrateControl_WatchStatus_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "cratemanager/v1/crate_control.proto",
}
