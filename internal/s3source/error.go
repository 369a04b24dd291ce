// ABOUTME: S3 error classification for the bucket track source
package s3source

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/harperreed/needle/internal/track"
)

var (
	ErrInvalidConfig  = errors.New("invalid s3 source configuration")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrAccessDenied   = errors.New("access denied")
)

// classifyError maps S3 failures onto supplier errors. Anything that may
// succeed on retry wraps track.ErrUnavailable.
func classifyError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s operation: %w", operation, err)
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: object vanished: %v", track.ErrUnavailable, err)
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); code {
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %s operation", ErrAccessDenied, operation)
		case "NoSuchBucket":
			return ErrBucketNotFound
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: object vanished: %v", track.ErrUnavailable, err)
		default:
			return fmt.Errorf("%w: %s operation failed (code: %s): %v", track.ErrUnavailable, operation, code, err)
		}
	}

	return fmt.Errorf("%w: %s operation failed: %v", track.ErrUnavailable, operation, err)
}
