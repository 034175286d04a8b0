package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshWindowStoresAndPublishes(t *testing.T) {
	h := newHarness(t, testConfig())
	h.plan.window = straightWindow(0, 40)

	w := h.srv.RefreshWindow(context.Background())

	require.Len(t, w, testParams().WindowSize())
	assert.Equal(t, w, h.srv.Snapshot().Window)
	_, _, windows := h.pub.counts()
	assert.Equal(t, 1, windows)
}

func TestRefreshWindowIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.plan.window = straightWindow(1, 11)
	ctx := context.Background()

	first := h.srv.RefreshWindow(ctx)
	second := h.srv.RefreshWindow(ctx)

	assert.Equal(t, first, second)
	assert.Equal(t, second, h.srv.Snapshot().Window)
}

func TestRefreshWindowEmptyIsStoredNotPublished(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.plan.window = straightWindow(0, 11)
	h.srv.RefreshWindow(ctx)

	h.plan.set(func(p *fakePlanner) { p.window = nil })
	w := h.srv.RefreshWindow(ctx)

	assert.Empty(t, w)
	assert.Empty(t, h.srv.Snapshot().Window)
	_, _, windows := h.pub.counts()
	assert.Equal(t, 1, windows)
}

func TestStoredWindowIsDetachedFromPlanner(t *testing.T) {
	h := newHarness(t, testConfig())
	buf := straightWindow(0, 11)
	h.plan.window = buf
	h.srv.RefreshWindow(context.Background())

	buf[0].X = 99
	assert.Equal(t, 0.0, h.srv.Snapshot().Window[0].X)
}
