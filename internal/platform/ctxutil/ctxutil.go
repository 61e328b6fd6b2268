package ctxutil

import "context"

// Default returns a usable context when the caller passed nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
