package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khangdo/janus/pkg/types"
)

// newTestLog creates an in-memory conversation log for testing.
func newTestLog(t *testing.T) *ConversationLog {
	t.Helper()
	logStore, err := NewConversationLog(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = logStore.Close() })
	return logStore
}

func TestAppend_AssignsIncreasingIDs(t *testing.T) {
	logStore := newTestLog(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		id, err := logStore.Append(ctx, fmt.Sprintf("turn %d", i), types.RoleUser, nil)
		require.NoError(t, err)
		assert.Greater(t, id, prev, "ids must strictly increase with insertion order")
		prev = id
	}
}

func TestAppend_RejectsUnknownRole(t *testing.T) {
	logStore := newTestLog(t)
	_, err := logStore.Append(context.Background(), "hello", types.Role("system"), nil)
	assert.Error(t, err)
}

func TestRecent_ChronologicalWindow(t *testing.T) {
	logStore := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := logStore.Append(ctx, fmt.Sprintf("turn %d", i), types.RoleUser, nil)
		require.NoError(t, err)
	}

	turns, err := logStore.Recent(ctx, 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)

	// Last four turns, oldest first.
	assert.Equal(t, "turn 6", turns[0].Content)
	assert.Equal(t, "turn 9", turns[3].Content)
	for i := 1; i < len(turns); i++ {
		assert.Greater(t, turns[i].ID, turns[i-1].ID)
	}
}

func TestRecent_FewerThanRequested(t *testing.T) {
	logStore := newTestLog(t)
	ctx := context.Background()

	_, err := logStore.Append(ctx, "only one", types.RoleUser, nil)
	require.NoError(t, err)

	turns, err := logStore.Recent(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	turns, err = logStore.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRecentExcluding_OmitsTriggeringTurn(t *testing.T) {
	logStore := newTestLog(t)
	ctx := context.Background()

	_, err := logStore.Append(ctx, "earlier", types.RoleAssistant, nil)
	require.NoError(t, err)
	queryID, err := logStore.Append(ctx, "current query", types.RoleUser, nil)
	require.NoError(t, err)

	turns, err := logStore.RecentExcluding(ctx, 8, queryID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "earlier", turns[0].Content)
}

// The end-to-end ordering scenario: a user greeting followed by the
// assistant's reply comes back in exactly that order.
func TestRecent_UserAssistantOrder(t *testing.T) {
	logStore := newTestLog(t)
	ctx := context.Background()

	_, err := logStore.Append(ctx, "Xin chào", types.RoleUser, nil)
	require.NoError(t, err)
	_, err = logStore.Append(ctx, "Chào bạn", types.RoleAssistant, nil)
	require.NoError(t, err)

	turns, err := logStore.Recent(ctx, 8)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, types.RoleUser, turns[0].Role)
	assert.Equal(t, "Xin chào", turns[0].Content)
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Chào bạn", turns[1].Content)
}

func TestAll_ReturnsAppendOrderDespiteTimestampCollisions(t *testing.T) {
	logStore := newTestLog(t)
	ctx := context.Background()

	// Freeze the clock so every turn shares one timestamp.
	frozen := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	logStore.now = func() time.Time { return frozen }

	const k = 7
	for i := 0; i < k; i++ {
		_, err := logStore.Append(ctx, fmt.Sprintf("turn %d", i), types.RoleUser, nil)
		require.NoError(t, err)
	}

	turns, err := logStore.All(ctx)
	require.NoError(t, err)
	require.Len(t, turns, k)
	for i, turn := range turns {
		assert.Equal(t, fmt.Sprintf("turn %d", i), turn.Content)
	}
}

func TestAppend_MetadataRoundTrip(t *testing.T) {
	logStore := newTestLog(t)
	ctx := context.Background()

	meta := map[string]any{"channel": "web", "lang": "vi"}
	_, err := logStore.Append(ctx, "hello", types.RoleUser, meta)
	require.NoError(t, err)

	turns, err := logStore.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "web", turns[0].Metadata["channel"])
	assert.Equal(t, "vi", turns[0].Metadata["lang"])
}

func TestQuery_AnnotatesRows(t *testing.T) {
	logStore := newTestLog(t)
	ctx := context.Background()

	_, err := logStore.Append(ctx, "note to self", types.RoleUser, map[string]any{"tag": "todo"})
	require.NoError(t, err)

	rows, err := logStore.Query(ctx,
		`SELECT id, role, content, timestamp, metadata FROM conversations ORDER BY timestamp ASC LIMIT 10`)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "user", rows[0]["role"])
	assert.NotEmpty(t, rows[0]["datetime"], "rows must carry a rendered instant")
	meta, ok := rows[0]["metadata"].(map[string]any)
	require.True(t, ok, "metadata must be parsed into a map")
	assert.Equal(t, "todo", meta["tag"])
}

func TestQuery_ErrorYieldsEmptyResult(t *testing.T) {
	logStore := newTestLog(t)

	// A broken predicate must degrade to an empty result, never an error.
	rows, err := logStore.Query(context.Background(), `SELECT nope FROM missing_table`)
	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCount(t *testing.T) {
	logStore := newTestLog(t)
	ctx := context.Background()

	count, err := logStore.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = logStore.Append(ctx, "one", types.RoleUser, nil)
	require.NoError(t, err)

	count, err = logStore.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
