package groutine

import (
	"context"
	"runtime/pprof"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGo_NameAndLabels(t *testing.T) {
	done := make(chan struct{})
	var name, component string
	var gid uint64

	Go(context.Background(), "gatts-worker-7", func(ctx context.Context) {
		defer close(done)
		name = GetName(ctx)
		component, _ = pprof.Label(ctx, "component")
		gid = GetGID()
	}, "component", "command")

	<-done
	assert.Equal(t, "gatts-worker-7", name)
	assert.Equal(t, "command", component)
	assert.NotZero(t, gid)
	assert.NotEqual(t, GetGID(), gid, "goroutine MUST run on its own goroutine")
}

func TestGetName_WithoutName(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck
}

func TestGroup_Wait(t *testing.T) {
	g := NewGroup(context.Background())
	var ran atomic.Int32
	for i := 0; i < 8; i++ {
		g.Go("member", func(ctx context.Context) {
			ran.Add(1)
		})
	}
	g.Wait()
	assert.Equal(t, int32(8), ran.Load())
}
