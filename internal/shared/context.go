package shared

import "context"

type batchContextKey struct{}

// ContextWithBatch stores the activity batch identifier for the request.
func ContextWithBatch(ctx context.Context, batch string) context.Context {
	return context.WithValue(ctx, batchContextKey{}, batch)
}

// BatchFromContext extracts the activity batch identifier.
func BatchFromContext(ctx context.Context) string {
	batch, _ := ctx.Value(batchContextKey{}).(string)
	return batch
}
