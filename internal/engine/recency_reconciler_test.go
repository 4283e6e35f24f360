package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khangdo/janus/pkg/types"
)

func TestRecencyReconcilerEmptyInput(t *testing.T) {
	gen := &fakeGenerator{response: "should not be called"}
	rec := NewRecencyReconciler(gen)

	out := rec.Reconcile(context.Background(), nil, time.Now())

	assert.Empty(t, out)
	assert.Zero(t, gen.calls, "delegate must not run on empty input")
}

func TestRecencyReconcilerAnnotatesAges(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	gen := &fakeGenerator{response: "User works at Initech."}
	rec := NewRecencyReconciler(gen)

	matches := []types.RetrievalMatch{
		{
			Text:     "User works at Acme.",
			Metadata: map[string]any{"created_at": now.AddDate(0, 0, -30).Format(time.RFC3339)},
		},
		{
			Text:     "User works at Initech.",
			Metadata: map[string]any{"created_at": now.AddDate(0, 0, -2).Format(time.RFC3339)},
		},
		{
			Text:     "User likes espresso.",
			Metadata: map[string]any{},
		},
	}

	out := rec.Reconcile(context.Background(), matches, now)

	require.Equal(t, "User works at Initech.", out)
	assert.Contains(t, gen.prompt, "(from 30 days ago)")
	assert.Contains(t, gen.prompt, "(from 2 days ago)")
	assert.Contains(t, gen.prompt, "(unknown age)")
}

func TestRecencyReconcilerEpochTimestampAge(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	gen := &fakeGenerator{response: "ok"}
	rec := NewRecencyReconciler(gen)

	matches := []types.RetrievalMatch{
		{
			Text:     "User moved to Hanoi.",
			Metadata: map[string]any{"timestamp": float64(now.AddDate(0, 0, -7).Unix())},
		},
	}

	rec.Reconcile(context.Background(), matches, now)

	assert.Contains(t, gen.prompt, "(from 7 days ago)")
}

func TestRecencyReconcilerFallbackYoungest(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	rec := NewRecencyReconciler(gen)

	matches := []types.RetrievalMatch{
		{
			Text:     "Old fact.",
			Metadata: map[string]any{"created_at": now.AddDate(0, 0, -90).Format(time.RFC3339)},
		},
		{
			Text:     "Unknown age fact.",
			Metadata: map[string]any{},
		},
		{
			Text:     "Fresh fact.",
			Metadata: map[string]any{"created_at": now.AddDate(0, 0, -1).Format(time.RFC3339)},
		},
	}

	out := rec.Reconcile(context.Background(), matches, now)

	assert.Equal(t, "Fresh fact.", out, "youngest known-age match survives the delegate failure")
}

func TestRecencyReconcilerFallbackAllUnknown(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	rec := NewRecencyReconciler(gen)

	matches := []types.RetrievalMatch{
		{Text: "First.", Metadata: map[string]any{}},
		{Text: "Second.", Metadata: map[string]any{"created_at": "not-a-date"}},
	}

	out := rec.Reconcile(context.Background(), matches, time.Now())

	assert.Equal(t, "First.", out)
}

func TestRecencyReconcilerTrimsResponse(t *testing.T) {
	gen := &fakeGenerator{response: "  distilled context \n"}
	rec := NewRecencyReconciler(gen)

	matches := []types.RetrievalMatch{
		{Text: "Fact.", Metadata: map[string]any{}},
	}

	out := rec.Reconcile(context.Background(), matches, time.Now())

	assert.Equal(t, "distilled context", out)
	assert.False(t, strings.ContainsAny(out, "\n"))
}
