// Package api exposes the placement engine over gRPC. Payloads are JSON
// documents carried as google.protobuf.Struct, so no generated stubs are
// needed on either side.
package api

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/solar-placement/internal/audit"
	"github.com/signalsfoundry/solar-placement/internal/logging"
	"github.com/signalsfoundry/solar-placement/internal/placement"
	"github.com/signalsfoundry/solar-placement/internal/sampling"
	"github.com/signalsfoundry/solar-placement/kb"
	"github.com/signalsfoundry/solar-placement/model"
)

const (
	ServiceName = "solarplacement.v1.PlacementService"

	GenerateLayoutMethod    = "/" + ServiceName + "/GenerateLayout"
	GetPublishedPosesMethod = "/" + ServiceName + "/GetPublishedPoses"
)

// PlacementServiceServer is the server API for PlacementService.
type PlacementServiceServer interface {
	GenerateLayout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPublishedPoses(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Generator runs one placement request against query. A nil query samples
// the generator's own host surface.
type Generator interface {
	GenerateOn(ctx context.Context, layout placement.Layout, query sampling.SurfaceQuery) (*placement.Result, error)
}

// SurfaceBuilder builds the surface one request's roof is sampled against.
type SurfaceBuilder func(segments []model.RoofSegment) sampling.SurfaceQuery

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSurfaceBuilder samples each request against a surface built from its
// own segments, so concurrent requests never see each other's roof.
func WithSurfaceBuilder(b SurfaceBuilder) ServiceOption {
	return func(s *Service) { s.surface = b }
}

// WithAuditTolerance sets the overlap depth ignored by audited requests.
func WithAuditTolerance(tol float64) ServiceOption {
	return func(s *Service) { s.auditTolerance = tol }
}

// Service implements PlacementServiceServer.
type Service struct {
	gen            Generator
	poses          *kb.PoseStore
	surface        SurfaceBuilder
	auditTolerance float64
	log            logging.Logger
}

// NewService wires a generator and the store its results are published to.
func NewService(gen Generator, poses *kb.PoseStore, log logging.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = logging.Noop()
	}
	s := &Service{
		gen:            gen,
		poses:          poses,
		auditTolerance: audit.DefaultTolerance,
		log:            log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// GenerateLayout places the panels of the requested layout and publishes
// them.
func (s *Service) GenerateLayout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.logger(ctx)

	_, decodeSpan := StartChildSpan(ctx, "Placement/DecodeLayout", "layout", "")
	layout, wantAudit, err := decodeGenerateRequest(req)
	if err != nil {
		decodeSpan.RecordError(err)
	}
	decodeSpan.End()
	if err != nil {
		log.Warn(ctx, "rejected layout request", logging.Err(err))
		return nil, ToStatusError(err)
	}

	var query sampling.SurfaceQuery
	if s.surface != nil {
		query = s.surface(layout.Segments)
		log.Debug(ctx, "built roof surface", logging.Int("segments", len(layout.Segments)))
	}

	res, err := s.gen.GenerateOn(ctx, layout, query)
	if err != nil {
		return nil, ToStatusError(err)
	}

	out := NewLayoutResult(res)
	if wantAudit {
		_, auditSpan := StartChildSpan(ctx, "Placement/AuditOverlaps", "layout", res.LayoutID,
			attribute.Int("panel_count", len(res.Panels)),
		)
		overlaps, err := audit.Overlaps(res.Panels, s.auditTolerance)
		if err != nil {
			auditSpan.RecordError(err)
			auditSpan.End()
			return nil, ToStatusError(err)
		}
		auditSpan.SetAttributes(attribute.Int("overlap_count", len(overlaps)))
		auditSpan.End()
		out.Audited = true
		out.Overlaps = overlaps
		if len(overlaps) > 0 {
			log.Warn(ctx, "layout has overlapping panels",
				logging.LayoutID(res.LayoutID),
				logging.Int("overlaps", len(overlaps)),
			)
		}
	}

	resp, err := toStruct(out)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return resp, nil
}

// GetPublishedPoses returns the pose set currently shown by the host.
func (s *Service) GetPublishedPoses(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.poses == nil {
		return nil, ToStatusError(ErrNoPublishedPoses)
	}
	set, ok := s.poses.Current()
	if !ok {
		return nil, ToStatusError(ErrNoPublishedPoses)
	}
	resp, err := toStruct(resultFromPoseSet(set))
	if err != nil {
		return nil, ToStatusError(err)
	}
	return resp, nil
}

var _ PlacementServiceServer = (*Service)(nil)

// PlacementServiceDesc describes PlacementService for grpc.Server.
var PlacementServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlacementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GenerateLayout", Handler: generateLayoutHandler},
		{MethodName: "GetPublishedPoses", Handler: getPublishedPosesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "solarplacement/v1/placement.proto",
}

// RegisterPlacementServiceServer registers srv on s.
func RegisterPlacementServiceServer(s grpc.ServiceRegistrar, srv PlacementServiceServer) {
	s.RegisterService(&PlacementServiceDesc, srv)
}

func generateLayoutHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlacementServiceServer).GenerateLayout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GenerateLayoutMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PlacementServiceServer).GenerateLayout(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getPublishedPosesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlacementServiceServer).GetPublishedPoses(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetPublishedPosesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PlacementServiceServer).GetPublishedPoses(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
