package api

import (
	"errors"

	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/durable"
	"github.com/matheus3301/paperchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps engine and backend errors to gRPC codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	var derr *durable.Error
	switch {
	case errors.Is(err, chat.ErrNoSession), errors.Is(err, chat.ErrNoConversation):
		return grpcstatus.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, chat.ErrEmptyMessage):
		return grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, store.ErrNotFound), durable.IsNotFound(err):
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, chat.ErrStopped):
		return grpcstatus.Errorf(codes.Unavailable, "%s: %v", op, err)
	case errors.As(err, &derr):
		return grpcstatus.Errorf(codes.Unavailable, "%s: %v", op, err)
	default:
		return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
