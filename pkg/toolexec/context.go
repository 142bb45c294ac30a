package toolexec

import "context"

type execContextKey struct{}

// WithExecContext attaches the execution context for handlers that need the
// session identity or workspace.
func WithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext returns the attached execution context, or nil.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if execCtx, ok := ctx.Value(execContextKey{}).(*ExecutionContext); ok {
		return execCtx
	}
	return nil
}
