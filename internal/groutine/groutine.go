// Package groutine starts named goroutines carrying pprof labels so worker
// and loop goroutines can be told apart in profiles and stack dumps.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name and any extra
// key/value label pairs:
//
//	groutine.Go(ctx, "gatts-worker-1", func(ctx context.Context) {
//	    // work
//	}, "component", "command")
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context), labels ...string) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	pairs := append([]string{"goroutine_name", name}, labels...)
	if len(pairs)%2 != 0 {
		pairs = pairs[:len(pairs)-1]
	}

	go pprof.Do(parentCtx, pprof.Labels(pairs...), func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetGID returns the numeric goroutine ID (hacky, for debugging and
// same-goroutine checks only).
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}

// Group runs named goroutines and waits for all of them.
type Group struct {
	ctx context.Context
	wg  sync.WaitGroup
}

// NewGroup returns a group whose goroutines inherit ctx.
func NewGroup(ctx context.Context) *Group {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Group{ctx: ctx}
}

// Go starts fn as a member of the group.
func (g *Group) Go(name string, fn func(ctx context.Context), labels ...string) {
	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	}, labels...)
}

// Wait blocks until every goroutine started by the group has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
