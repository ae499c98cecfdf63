package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// remoteErr wraps a store failure for operation op.
func remoteErr(op string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("failed to %s: %w: %w", op, ErrDocumentNotFound, err)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, ErrRemoteOperationFailed, err)
}

func isNotFound(err error) bool {
	if status.Code(err) == codes.NotFound {
		return true
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// isCapabilityError reports whether err means the transport itself is unusable,
// as opposed to the store rejecting the operation. Network errors from the REST
// client count as unusable; an expired or cancelled caller context does not.
func isCapabilityError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch status.Code(err) {
	case codes.Unimplemented, codes.Unavailable:
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotImplemented || apiErr.Code == http.StatusServiceUnavailable
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
