// Package groutine starts named goroutines. The name is attached both as a
// pprof label and as a context value so profiles and logs can tell the
// ingestion workers apart.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

// LabelKey is the pprof label carrying the goroutine name.
const LabelKey = "goroutine_name"

// Go runs fn in a new goroutine labelled name and returns a channel closed
// when fn returns. A nil parent context is replaced by context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parent == nil {
		parent = context.Background()
	}
	done := make(chan struct{})

	go pprof.Do(parent, pprof.Labels(LabelKey, name), func(ctx context.Context) {
		defer close(done)
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
	return done
}

// Name returns the name given to the goroutine that owns ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
