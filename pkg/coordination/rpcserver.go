package coordination

import (
	"context"
	"errors"
	"fmt"

	"github.com/sandialabs/firewheel/pkg/coordination/coordpb"
	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RPCServer adapts a Service to the grpc.ServiceDesc below. Every handler
// translates coordpb wire messages to and from Service calls and maps
// fwerrors.ErrOutOfRange to codes.OutOfRange, matching the original's
// context.abort(grpc.StatusCode.OUT_OF_RANGE, ...) usage throughout
// firewheel_grpc_server.py.
type RPCServer struct {
	svc *Service
}

// NewRPCServer wraps svc for registration on a grpc.Server.
func NewRPCServer(svc *Service) *RPCServer {
	return &RPCServer{svc: svc}
}

// Register attaches the Coordination Service to server using the
// hand-written ServiceDesc (there is no protoc-generated registration
// function in this tree).
func (r *RPCServer) Register(server *grpc.Server) {
	server.RegisterService(&serviceDesc, r)
}

func statusOf(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fwerrors.ErrOutOfRange) {
		return status.Error(codes.OutOfRange, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func (r *RPCServer) getInfo(_ context.Context, _ *coordpb.GetInfoRequest) (*coordpb.GetInfoResponse, error) {
	version, uptime, running := r.svc.GetInfo()
	return &coordpb.GetInfoResponse{Version: version, UptimeSeconds: uptime, ExperimentRunning: running}, nil
}

func (r *RPCServer) setVMMapping(_ context.Context, req *coordpb.SetVMMappingRequest) (*coordpb.VMMapping, error) {
	m, err := r.svc.SetVMMapping(req.Mapping.DB, VMMapping{
		ServerUUID:  req.Mapping.ServerUUID,
		ServerName:  req.Mapping.ServerName,
		ControlIP:   req.Mapping.ControlIP,
		State:       req.Mapping.State,
		CurrentTime: req.Mapping.CurrentTime,
	})
	if err != nil {
		return nil, statusOf(err)
	}
	return toWireMapping(req.Mapping.DB, m), nil
}

func (r *RPCServer) setVMStateByUUID(_ context.Context, req *coordpb.SetVMStateByUUIDRequest) (*coordpb.VMMapping, error) {
	m, err := r.svc.SetVMStateByUUID(req.DB, req.ServerUUID, req.State)
	if err != nil {
		return nil, statusOf(err)
	}
	return toWireMapping(req.DB, m), nil
}

func (r *RPCServer) setVMTimeByUUID(_ context.Context, req *coordpb.SetVMTimeByUUIDRequest) (*coordpb.VMMapping, error) {
	m, err := r.svc.SetVMTimeByUUID(req.DB, req.ServerUUID, req.CurrentTime)
	if err != nil {
		return nil, statusOf(err)
	}
	return toWireMapping(req.DB, m), nil
}

func (r *RPCServer) getVMMappingByUUID(_ context.Context, req *coordpb.VMMappingUUIDRequest) (*coordpb.VMMapping, error) {
	m, err := r.svc.GetVMMappingByUUID(req.DB, req.ServerUUID)
	if err != nil {
		return nil, statusOf(err)
	}
	return toWireMapping(req.DB, m), nil
}

func (r *RPCServer) countVMMappingsNotReady(_ context.Context, req *coordpb.CountVMMappingsNotReadyRequest) (*coordpb.CountVMMappingsNotReadyResponse, error) {
	count, err := r.svc.CountVMMappingsNotReady(req.DB)
	if err != nil {
		return nil, statusOf(err)
	}
	return &coordpb.CountVMMappingsNotReadyResponse{Count: count}, nil
}

func (r *RPCServer) destroyVMMappingByUUID(_ context.Context, req *coordpb.VMMappingUUIDRequest) (*coordpb.DestroyVMMappingResponse, error) {
	if err := r.svc.DestroyVMMappingByUUID(req.DB, req.ServerUUID); err != nil {
		return nil, statusOf(err)
	}
	return &coordpb.DestroyVMMappingResponse{}, nil
}

func (r *RPCServer) destroyAllVMMappings(_ context.Context, req *coordpb.DestroyAllVMMappingsRequest) (*coordpb.DestroyAllVMMappingsResponse, error) {
	if err := r.svc.DestroyAllVMMappings(req.DB); err != nil {
		return nil, statusOf(err)
	}
	return &coordpb.DestroyAllVMMappingsResponse{}, nil
}

func (r *RPCServer) setExperimentLaunchTime(_ context.Context, req *coordpb.ExperimentLaunchTime) (*coordpb.ExperimentLaunchTime, error) {
	t, err := r.svc.SetExperimentLaunchTime(req.DB, req.LaunchSeconds)
	if err != nil {
		return nil, statusOf(err)
	}
	return &coordpb.ExperimentLaunchTime{DB: req.DB, LaunchSeconds: t}, nil
}

func (r *RPCServer) getExperimentLaunchTime(_ context.Context, req *coordpb.GetExperimentLaunchTimeRequest) (*coordpb.ExperimentLaunchTime, error) {
	t, err := r.svc.GetExperimentLaunchTime(req.DB)
	if err != nil {
		return nil, statusOf(err)
	}
	return &coordpb.ExperimentLaunchTime{DB: req.DB, LaunchSeconds: t}, nil
}

func (r *RPCServer) setExperimentStartTime(_ context.Context, req *coordpb.ExperimentStartTime) (*coordpb.ExperimentStartTime, error) {
	t, err := r.svc.SetExperimentStartTime(req.DB, req.StartSeconds)
	if err != nil {
		return nil, statusOf(err)
	}
	return &coordpb.ExperimentStartTime{DB: req.DB, StartSeconds: t}, nil
}

func (r *RPCServer) getExperimentStartTime(_ context.Context, req *coordpb.GetExperimentStartTimeRequest) (*coordpb.ExperimentStartTime, error) {
	t, err := r.svc.GetExperimentStartTime(req.DB)
	if err != nil {
		return nil, statusOf(err)
	}
	return &coordpb.ExperimentStartTime{DB: req.DB, StartSeconds: t}, nil
}

func (r *RPCServer) initializeExperimentStartTime(_ context.Context, req *coordpb.InitializeExperimentStartTimeRequest) (*coordpb.InitializeExperimentStartTimeResponse, error) {
	if err := r.svc.InitializeExperimentStartTime(req.DB); err != nil {
		return nil, statusOf(err)
	}
	return &coordpb.InitializeExperimentStartTimeResponse{}, nil
}

func toWireMapping(db string, m VMMapping) *coordpb.VMMapping {
	return &coordpb.VMMapping{
		DB:          db,
		ServerUUID:  m.ServerUUID,
		ServerName:  m.ServerName,
		ControlIP:   m.ControlIP,
		State:       m.State,
		CurrentTime: m.CurrentTime,
	}
}

func unaryHandler[Req any, Resp any](fn func(*RPCServer, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*RPCServer)
		if interceptor == nil {
			return fn(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/firewheel.Coordination/"}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(s, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func listVMMappingsHandler(srv interface{}, stream grpc.ServerStream) error {
	s := srv.(*RPCServer)
	req := new(coordpb.ListVMMappingsRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	mappings, err := s.svc.ListVMMappings(req.DB)
	if err != nil {
		return statusOf(err)
	}
	for _, m := range mappings {
		if err := stream.SendMsg(toWireMapping(req.DB, m)); err != nil {
			return fmt.Errorf("streaming vm mapping: %w", err)
		}
	}
	return nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "firewheel.Coordination",
	HandlerType: (*RPCServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetInfo", Handler: unaryHandler(func(s *RPCServer, ctx context.Context, req *coordpb.GetInfoRequest) (*coordpb.GetInfoResponse, error) {
			return s.getInfo(ctx, req)
		})},
		{MethodName: "SetVMMapping", Handler: unaryHandler((*RPCServer).setVMMapping)},
		{MethodName: "SetVMStateByUUID", Handler: unaryHandler((*RPCServer).setVMStateByUUID)},
		{MethodName: "SetVMTimeByUUID", Handler: unaryHandler((*RPCServer).setVMTimeByUUID)},
		{MethodName: "GetVMMappingByUUID", Handler: unaryHandler((*RPCServer).getVMMappingByUUID)},
		{MethodName: "CountVMMappingsNotReady", Handler: unaryHandler((*RPCServer).countVMMappingsNotReady)},
		{MethodName: "DestroyVMMappingByUUID", Handler: unaryHandler((*RPCServer).destroyVMMappingByUUID)},
		{MethodName: "DestroyAllVMMappings", Handler: unaryHandler((*RPCServer).destroyAllVMMappings)},
		{MethodName: "SetExperimentLaunchTime", Handler: unaryHandler((*RPCServer).setExperimentLaunchTime)},
		{MethodName: "GetExperimentLaunchTime", Handler: unaryHandler((*RPCServer).getExperimentLaunchTime)},
		{MethodName: "SetExperimentStartTime", Handler: unaryHandler((*RPCServer).setExperimentStartTime)},
		{MethodName: "GetExperimentStartTime", Handler: unaryHandler((*RPCServer).getExperimentStartTime)},
		{MethodName: "InitializeExperimentStartTime", Handler: unaryHandler((*RPCServer).initializeExperimentStartTime)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ListVMMappings", Handler: listVMMappingsHandler, ServerStreams: true},
	},
	Metadata: "coordination.proto",
}
