package domain

import "context"

type regenerationKey struct{}

// WithRegeneration marks ctx as a request to replace the latest tutor reply.
func WithRegeneration(ctx context.Context) context.Context {
	return context.WithValue(ctx, regenerationKey{}, true)
}

// IsRegeneration reports whether ctx was marked by WithRegeneration.
func IsRegeneration(ctx context.Context) bool {
	v, _ := ctx.Value(regenerationKey{}).(bool)
	return v
}
