package rpc

import (
	"context"
	"net"
	"time"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName                = "bookbridge.BookService"
	GetOrderBookSnapshotMethod = "/" + ServiceName + "/GetOrderBookSnapshot"
)

// BookSnapshotter serves local book views.
type BookSnapshotter interface {
	GetBookSnapshot(ctx context.Context, key domain.BookKey, depth int, vwapQty decimal.Decimal) (*domain.BookSnapshot, error)
}

// BookServiceServer is the server side of bookbridge.BookService.
type BookServiceServer interface {
	GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var bookServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BookServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetOrderBookSnapshot",
			Handler:    getOrderBookSnapshotHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bookbridge.proto",
}

func getOrderBookSnapshotHandler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BookServiceServer).GetOrderBookSnapshot(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetOrderBookSnapshotMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BookServiceServer).GetOrderBookSnapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type server struct {
	snapshots         BookSnapshotter
	validationService *ValidationService
	health            *health.Server
	grpcServer        *grpc.Server
	logger            *zap.Logger
}

func NewServer(snapshots BookSnapshotter, conf *ValidationServiceConfig, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("rpc")

	s := &server{
		snapshots:         snapshots,
		validationService: NewValidationService(conf),
		health:            health.NewServer(),
		logger:            logger,
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	s.grpcServer.RegisterService(&bookServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return s
}

func (s *server) Serve(lis net.Listener) error {
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

func (s *server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// SetBookStatus publishes the health of one book under "venue:isin".
func (s *server) SetBookStatus(key domain.BookKey, live bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if live {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(key.String(), st)
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.Stringer("code", status.Code(err)),
		}
		if err != nil {
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("rpc served", fields...)
		}

		return resp, err
	}
}

type bookServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBookServiceClient(cc grpc.ClientConnInterface) *bookServiceClient {
	return &bookServiceClient{cc: cc}
}

func (c *bookServiceClient) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetOrderBookSnapshotMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
