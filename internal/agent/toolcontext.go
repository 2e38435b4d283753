package agent

import "context"

type toolCallIDKey struct{}

// ToolCallIDFromContext returns the ID of the tool call currently executing,
// if the context was derived from one set up by ToolExecutor. Tools that need
// to correlate their own side effects (change tracking, audit logs) with the
// originating call should use this instead of threading the ID through their
// Execute params.
func ToolCallIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(toolCallIDKey{}).(string)
	return id, ok && id != ""
}

// WithToolCallID returns a context carrying the given tool call ID. ToolExecutor
// calls this internally before dispatching to the registry; tests that exercise
// a Tool.Execute directly can use it to simulate that dispatch.
func WithToolCallID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, toolCallIDKey{}, id)
}
