package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"kostbook/internal/domain"
	"kostbook/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	bookingServiceName = "kostbook.booking.v1.BookingService"

	methodQueryAvailableRooms = "/" + bookingServiceName + "/QueryAvailableRooms"
	methodCreateBooking       = "/" + bookingServiceName + "/CreateBooking"
	methodResolveCheckinCode  = "/" + bookingServiceName + "/ResolveCheckinCode"
	methodTransitionBooking   = "/" + bookingServiceName + "/TransitionBooking"
	methodSweepExpired        = "/" + bookingServiceName + "/SweepExpired"
)

// BookingServiceServer is the server side of kostbook.booking.v1.BookingService.
// Requests and responses are google.protobuf.Struct documents.
type BookingServiceServer interface {
	QueryAvailableRooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveCheckinCode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransitionBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SweepExpired(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type bookingMethod func(BookingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call bookingMethod) grpc.MethodDesc {
	fullMethod := "/" + bookingServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BookingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BookingServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var bookingServiceDesc = grpc.ServiceDesc{
	ServiceName: bookingServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("QueryAvailableRooms", BookingServiceServer.QueryAvailableRooms),
		unaryMethod("CreateBooking", BookingServiceServer.CreateBooking),
		unaryMethod("ResolveCheckinCode", BookingServiceServer.ResolveCheckinCode),
		unaryMethod("TransitionBooking", BookingServiceServer.TransitionBooking),
		unaryMethod("SweepExpired", BookingServiceServer.SweepExpired),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kostbook/booking/v1/booking.proto",
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&bookingServiceDesc, srv)
}

// BookingServiceClient calls kostbook.booking.v1.BookingService.
type BookingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingServiceClient(cc grpc.ClientConnInterface) *BookingServiceClient {
	return &BookingServiceClient{cc: cc}
}

func (c *BookingServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) QueryAvailableRooms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodQueryAvailableRooms, in, opts...)
}

func (c *BookingServiceClient) CreateBooking(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCreateBooking, in, opts...)
}

func (c *BookingServiceClient) ResolveCheckinCode(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodResolveCheckinCode, in, opts...)
}

func (c *BookingServiceClient) TransitionBooking(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodTransitionBooking, in, opts...)
}

func (c *BookingServiceClient) SweepExpired(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodSweepExpired, in, opts...)
}

// BookingService adapts the engine to the gRPC surface.
type BookingService struct {
	engine Engine
}

func NewBookingService(engine Engine) *BookingService {
	return &BookingService{engine: engine}
}

func (s *BookingService) QueryAvailableRooms(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kostID, err := intField(in, "kost_id")
	if err != nil {
		return nil, grpcError(err)
	}
	start, err := timeField(in, "start")
	if err != nil {
		return nil, grpcError(err)
	}
	end, err := timeField(in, "end")
	if err != nil {
		return nil, grpcError(err)
	}

	rooms, err := s.engine.QueryAvailableRooms(ctx, kostID, start, end)
	if err != nil {
		return nil, grpcError(err)
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	return toStruct(map[string]any{"rooms": rooms})
}

func (s *BookingService) CreateBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	session, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}
	kostID, err := intField(in, "kost_id")
	if err != nil {
		return nil, grpcError(err)
	}
	roomID, err := intField(in, "room_id")
	if err != nil {
		return nil, grpcError(err)
	}
	start, err := timeField(in, "start_time")
	if err != nil {
		return nil, grpcError(err)
	}
	hours, err := intField(in, "duration_hours")
	if err != nil {
		return nil, grpcError(err)
	}

	b, err := s.engine.CreateBooking(ctx, session, kostID, roomID, start, int(hours))
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"booking": b})
}

// ResolveCheckinCode is a read-only lookup; the code itself is not echoed back.
func (s *BookingService) ResolveCheckinCode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	code := stringField(in, "code")
	b, err := s.engine.ResolveByCheckinCode(ctx, code)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"booking": b.WithoutSecret()})
}

func (s *BookingService) TransitionBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	session, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}
	id, err := intField(in, "booking_id")
	if err != nil {
		return nil, grpcError(err)
	}
	action, err := models.ParseAction(stringField(in, "action"))
	if err != nil {
		return nil, grpcError(domain.Invalid("action", err.Error()))
	}

	b, err := s.engine.TransitionBooking(ctx, session, id, action)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"booking": b})
}

func (s *BookingService) SweepExpired(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.engine.SweepExpired(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"transitioned": n})
}

func requireSession(ctx context.Context) (models.Session, error) {
	session, ok := SessionFrom(ctx)
	if !ok {
		return models.Session{}, status.Errorf(codes.Unauthenticated, "%s and %s metadata are required", userIDMetadataKey, userRoleMetadataKey)
	}
	return session, nil
}

// toStruct goes through the JSON encoding so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func stringField(in *structpb.Struct, name string) string {
	v, ok := in.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

// intField accepts whole numbers and numeric strings.
func intField(in *structpb.Struct, name string) (int64, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, domain.Invalid(name, "is required")
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, domain.Invalid(name, "must be a whole number")
		}
		return int64(f), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(strings.TrimSpace(kind.StringValue), 10, 64)
		if err != nil {
			return 0, domain.Invalid(name, "must be a whole number")
		}
		return n, nil
	default:
		return 0, domain.Invalid(name, "must be a whole number")
	}
}

func timeField(in *structpb.Struct, name string) (time.Time, error) {
	raw := stringField(in, name)
	if raw == "" {
		return time.Time{}, domain.Invalid(name, "is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.Invalid(name, fmt.Sprintf("must be RFC3339, got %q", raw))
	}
	return t, nil
}
