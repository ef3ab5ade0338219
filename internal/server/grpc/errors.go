package grpc

import (
	"errors"

	"github.com/dmitrijs2005/securechat/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var statusCodes = []struct {
	err  error
	code codes.Code
}{
	{common.ErrValidation, codes.InvalidArgument},
	{common.ErrKeyFormat, codes.InvalidArgument},
	{common.ErrInvalidContentType, codes.InvalidArgument},
	{common.ErrKeyNotFound, codes.FailedPrecondition},
	{common.ErrNotFound, codes.NotFound},
	{common.ErrNotReady, codes.Unavailable},
	{common.ErrUnauthorized, codes.Unauthenticated},
	{common.ErrInvalidToken, codes.Unauthenticated},
	{common.ErrTokenExpired, codes.Unauthenticated},
	{common.ErrRateLimited, codes.ResourceExhausted},
}

// toStatus maps a service error to a gRPC status. Unknown errors become
// Internal without their message.
func toStatus(err error) error {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return status.Error(sc.code, err.Error())
		}
	}
	return status.Error(codes.Internal, "internal error")
}
