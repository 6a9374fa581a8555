package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/paulbir/TokenTraderPublic-sub001/provider"
	"github.com/paulbir/TokenTraderPublic-sub001/usecase"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GetOrderBookSnapshot expects {venue, isin, depth, vwapQty}; depth and
// vwapQty are optional.
func (s *server) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	venue := fields["venue"].GetStringValue()

	if !s.validationService.IsSupportedVenue(venue) {
		return nil, status.Errorf(codes.InvalidArgument, "venue %s is not supported", venue)
	}

	key, err := domain.NewBookKey(venue, fields["isin"].GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid book key: %v", err)
	}

	depth, err := parseDepth(fields["depth"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid depth: %v", err)
	}

	vwapQty, err := parseDecimal(fields["vwapQty"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid vwapQty: %v", err)
	}

	snapshot, err := s.snapshots.GetBookSnapshot(ctx, *key, depth, vwapQty)
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrBookInitializing):
		return nil, status.Errorf(codes.Unavailable, "order book %s is initializing, retry later", key)
	case errors.Is(err, provider.ErrUnknownVenue):
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"source":  string(snapshot.Source),
		"isin":    snapshot.Isin,
		"bids":    serializeLevels(snapshot.Bids),
		"asks":    serializeLevels(snapshot.Asks),
		"bestBid": snapshot.BestBid,
		"bestAsk": snapshot.BestAsk,
		"bidVwap": snapshot.BidVwap,
		"askVwap": snapshot.AskVwap,
	})
}

// maxDepth bounds the requested depth so the float to int conversion is exact.
const maxDepth = math.MaxInt32

func parseDepth(v *structpb.Value) (int, error) {
	switch kind := v.GetKind().(type) {
	case nil:
		return 0, nil
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not a whole number", n)
		}
		if n < 0 || n > maxDepth {
			return 0, fmt.Errorf("%v is out of range [0, %d]", n, maxDepth)
		}
		return int(n), nil
	default:
		return 0, errors.New("expected a number")
	}
}

func parseDecimal(v *structpb.Value) (decimal.Decimal, error) {
	switch kind := v.GetKind().(type) {
	case nil:
		return decimal.Zero, nil
	case *structpb.Value_StringValue:
		if kind.StringValue == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(kind.StringValue)
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(kind.NumberValue), nil
	default:
		return decimal.Zero, errors.New("expected a string or a number")
	}
}

func serializeLevels(levels [][]string) []interface{} {
	result := make([]interface{}, 0, len(levels))
	for _, level := range levels {
		row := make([]interface{}, 0, len(level))
		for _, v := range level {
			row = append(row, v)
		}
		result = append(result, row)
	}
	return result
}
