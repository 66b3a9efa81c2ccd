package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/docpipe/internal/core"
)

// classify wraps a provider error with the matching core sentinel so callers
// can tell transient failures apart.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", provider, core.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", provider, sentinelFor(err), err)
}

func sentinelFor(err error) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return core.ErrRateLimited
		case codes.DeadlineExceeded, codes.Unavailable:
			return core.ErrTimeout
		}
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return sentinelForHTTP(gErr.Code)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return sentinelForHTTP(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return sentinelForHTTP(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.ErrTimeout
	}
	return core.ErrProvider
}

func sentinelForHTTP(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return core.ErrRateLimited
	case code == http.StatusRequestTimeout, code >= http.StatusInternalServerError:
		return core.ErrTimeout
	default:
		return core.ErrProvider
	}
}
