package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

// DefaultTimeout bounds one completion call when Options.Timeout is unset.
const DefaultTimeout = 60 * time.Second

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

// withTimeout derives the context for one provider call.
func withTimeout(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opts.timeout())
}

// callError annotates a failed provider call. When the call's own deadline
// fired while the caller's ctx is still live, the result wraps
// context.DeadlineExceeded so it reads as a model failure, not a cancel.
func callError(ctx, callCtx context.Context, opts Options, err error) error {
	if ctx.Err() == nil && callCtx.Err() != nil {
		return engine.WrapLLMError(
			fmt.Errorf("model call timed out after %s: %w", opts.timeout(), context.DeadlineExceeded), 0, "")
	}
	httpStatus, retryAfter := extractErrorMetadata(err)
	return engine.WrapLLMError(err, httpStatus, retryAfter)
}
